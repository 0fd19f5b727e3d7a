package service

import (
	"errors"

	"tintbook/internal/database"
	"tintbook/internal/slots"
)

var (
	ErrNoAvailability      = errors.New("no staff member is free at the requested time")
	ErrDayFullyBooked      = errors.New("day is fully booked")
	ErrConcurrencyConflict = database.ErrConcurrencyConflict
	ErrUnknownService      = errors.New("unknown service")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAppointmentInactive = errors.New("appointment is not active")
	ErrInvalidDuration     = errors.New("job duration must be positive")
	ErrInvalidDate         = errors.New("date must be formatted as YYYY-MM-DD")
)

// Error kinds reported in a failed AllocationResult.
const (
	KindNoAvailability      = "NoAvailability"
	KindInvalidSlot         = "InvalidSlot"
	KindDayFullyBooked      = "DayFullyBooked"
	KindConcurrencyConflict = "ConcurrencyConflict"
	KindParseError          = "ParseError"
	KindInternal            = "Internal"
)

// ErrorKind classifies an allocation error.
func ErrorKind(err error) string {
	var (
		parseErr *slots.ParseError
		slotErr  *slots.InvalidSlotError
	)
	switch {
	case errors.As(err, &slotErr), errors.Is(err, ErrInvalidDuration):
		return KindInvalidSlot
	case errors.As(err, &parseErr), errors.Is(err, ErrInvalidDate):
		return KindParseError
	case errors.Is(err, ErrNoAvailability):
		return KindNoAvailability
	case errors.Is(err, ErrDayFullyBooked):
		return KindDayFullyBooked
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	default:
		return KindInternal
	}
}

// ResultFromError builds the failed result shape for err.
func ResultFromError(err error) *AllocationResult {
	if err == nil {
		return nil
	}
	return &AllocationResult{
		Success: false,
		Error:   ErrorKind(err),
		Message: err.Error(),
	}
}
