package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tintbook/internal/database"
	"tintbook/internal/domain"
	"tintbook/internal/events"
	"tintbook/internal/models"
	"tintbook/internal/slots"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type CreateAppointmentInput struct {
	Date          string   `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime     string   `json:"start_time" validate:"required"`
	ServiceIDs    []string `json:"service_ids"`
	DurationHours float64  `json:"duration_hours" validate:"gte=0"`
	CustomerName  string   `json:"customer_name" validate:"required,max=200"`
	CustomerPhone string   `json:"customer_phone" validate:"required,max=32"`
	Notes         string   `json:"notes" validate:"max=1000"`
}

// BookingService ties allocation to persisted appointments.
type BookingService struct {
	allocator *Allocator
	repo      domain.AppointmentRepository
	catalog   *Catalog
	eventBus  domain.EventPublisher
	logger    *zerolog.Logger
}

func NewBookingService(
	allocator *Allocator,
	repo domain.AppointmentRepository,
	catalog *Catalog,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		allocator: allocator,
		repo:      repo,
		catalog:   catalog,
		eventBus:  eventBus,
		logger:    logger,
	}
}

func (s *BookingService) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*models.Appointment, *AllocationResult, error) {
	duration := in.DurationHours
	if duration == 0 && s.catalog != nil {
		d, err := s.catalog.JobDurationHours(in.ServiceIDs)
		if err != nil {
			return nil, nil, err
		}
		duration = d
	}

	res, err := s.allocator.Allocate(ctx, AllocationRequest{
		Date:          in.Date,
		StartTime:     in.StartTime,
		DurationHours: duration,
	})
	if err != nil {
		return nil, nil, err
	}

	appt := &models.Appointment{
		ID:            uuid.NewString(),
		StaffID:       res.StaffID,
		Date:          res.Date,
		StartTime:     res.StartTime,
		DurationHours: res.DurationHours,
		ServiceIDs:    in.ServiceIDs,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		Notes:         in.Notes,
		Status:        models.StatusBooked,
	}

	if err := s.repo.CreateAppointment(ctx, appt); err != nil {
		// слоты уже заняты, возвращаем их
		if _, relErr := s.release(ctx, appt, ""); relErr != nil {
			s.logger.Error().Err(relErr).Str("staff_id", appt.StaffID).Str("date", appt.Date).Msg("Failed to release slots after insert error")
		}
		return nil, nil, fmt.Errorf("save appointment: %w", err)
	}

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("staff_id", appt.StaffID).
		Str("date", appt.Date).
		Str("start", appt.StartTime).
		Msg("Appointment created")
	s.publishEvent(events.EventAppointmentCreated, appt, res.BookedSlots, nil)
	return appt, res, nil
}

// CancelAppointment marks the appointment cancelled and frees its slots.
// Cancelling again only repeats the release, which has no effect once the
// window is free.
func (s *BookingService) CancelAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == models.StatusCancelled {
		if _, err := s.release(ctx, appt, appt.ID); err != nil {
			return nil, fmt.Errorf("release slots of %s: %w", appt.ID, err)
		}
		return appt, nil
	}

	if err := s.repo.UpdateAppointmentStatusWithVersion(ctx, appt.ID, appt.Version, models.StatusCancelled); err != nil {
		return nil, s.mapRepoErr(err)
	}
	appt.Status = models.StatusCancelled
	appt.Version++
	s.publishEvent(events.EventAppointmentCancelled, appt, nil, nil)

	if _, err := s.release(ctx, appt, appt.ID); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("Appointment cancelled but slots are still held")
		return nil, fmt.Errorf("release slots of %s: %w", appt.ID, err)
	}

	s.logger.Info().Str("appointment_id", appt.ID).Str("staff_id", appt.StaffID).Msg("Appointment cancelled")
	return appt, nil
}

// RescheduleAppointment books the new time before letting go of the old one,
// so a failed move leaves the original booking intact.
func (s *BookingService) RescheduleAppointment(ctx context.Context, id, newDate, newStart string) (*models.Appointment, *AllocationResult, error) {
	appt, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !appt.IsActive() {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrAppointmentInactive, appt.ID, appt.Status)
	}

	res, err := s.allocator.Allocate(ctx, AllocationRequest{
		Date:          newDate,
		StartTime:     newStart,
		DurationHours: appt.DurationHours,
	})
	if err != nil {
		return nil, nil, err
	}

	previous := *appt
	moved := *appt
	moved.StaffID = res.StaffID
	moved.Date = res.Date
	moved.StartTime = res.StartTime

	if err := s.repo.RescheduleAppointmentWithVersion(ctx, appt.ID, appt.Version, moved.StaffID, moved.Date, moved.StartTime); err != nil {
		if _, relErr := s.release(ctx, &moved, ""); relErr != nil {
			s.logger.Error().Err(relErr).Str("appointment_id", appt.ID).Msg("Failed to release new slots after reschedule error")
		}
		return nil, nil, s.mapRepoErr(err)
	}
	moved.Version++
	moved.Status = models.StatusBooked

	// строка уже на новом месте и удерживает новое окно
	if _, err := s.release(ctx, &previous, ""); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("Failed to release previous slots")
		return nil, nil, fmt.Errorf("release previous slots of %s: %w", appt.ID, err)
	}

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("from", previous.Date+" "+previous.StartTime).
		Str("to", moved.Date+" "+moved.StartTime).
		Str("staff_id", moved.StaffID).
		Msg("Appointment rescheduled")
	s.publishEvent(events.EventAppointmentRescheduled, &moved, res.BookedSlots, &previous)
	return &moved, res, nil
}

func (s *BookingService) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, s.mapRepoErr(err)
	}
	return appt, nil
}

func (s *BookingService) ListAppointments(ctx context.Context, date string) ([]*models.Appointment, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	return s.repo.ListAppointmentsByDate(ctx, date)
}

// ClearDay closes date for booking and cancels its active appointments.
// The slot records are emptied by the clear itself.
func (s *BookingService) ClearDay(ctx context.Context, date string) error {
	staffIDs, err := s.allocator.ClearDay(ctx, date)
	if err != nil {
		return err
	}
	s.logger.Warn().Str("date", date).Int("staff", len(staffIDs)).Msg("Day cleared")
	s.publish(events.EventDayCleared, events.DayEventPayload{Date: date, StaffIDs: staffIDs})

	appts, err := s.repo.ListAppointmentsByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list appointments of cleared day: %w", err)
	}

	var errs []error
	for _, appt := range appts {
		if !appt.IsActive() {
			continue
		}
		if err := s.repo.UpdateAppointmentStatusWithVersion(ctx, appt.ID, appt.Version, models.StatusCancelled); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", appt.ID, s.mapRepoErr(err)))
			continue
		}
		appt.Status = models.StatusCancelled
		appt.Version++
		s.publishEvent(events.EventAppointmentCancelled, appt, nil, nil)
	}
	return errors.Join(errs...)
}

func (s *BookingService) ResetDay(ctx context.Context, date string) error {
	if err := s.allocator.ResetDay(ctx, date); err != nil {
		return err
	}
	s.logger.Info().Str("date", date).Msg("Day reset")
	s.publish(events.EventDayReset, events.DayEventPayload{Date: date})
	return nil
}

// release frees appt's window while keeping slots that other active
// appointments of the same staff member on that date still need.
func (s *BookingService) release(ctx context.Context, appt *models.Appointment, excludeID string) (*models.StaffSlotRecord, error) {
	holds, err := s.holdsFor(ctx, appt.StaffID, appt.Date, excludeID)
	if err != nil {
		return nil, err
	}
	return s.allocator.ReleaseSlots(ctx, appt.StaffID, appt.Date, appt.StartTime, appt.DurationHours, holds...)
}

func (s *BookingService) holdsFor(ctx context.Context, staffID, date, excludeID string) ([]SlotHold, error) {
	appts, err := s.repo.ListAppointmentsByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	var holds []SlotHold
	for _, a := range appts {
		if a.StaffID != staffID || a.ID == excludeID || !a.IsActive() {
			continue
		}
		holds = append(holds, SlotHold{StartTime: a.StartTime, DurationHours: a.DurationHours})
	}
	return holds, nil
}

func (s *BookingService) mapRepoErr(err error) error {
	if errors.Is(err, database.ErrRecordNotFound) {
		return ErrAppointmentNotFound
	}
	return err
}

func (s *BookingService) publishEvent(eventType string, appt *models.Appointment, booked []string, previous *models.Appointment) {
	if booked == nil {
		if window, err := s.allocator.Codec().GridWindow(appt.StartTime, appt.DurationHours); err == nil {
			booked = slots.SortPadded(window)
		}
	}
	payload := events.AppointmentEventPayload{
		AppointmentID: appt.ID,
		StaffID:       appt.StaffID,
		Date:          appt.Date,
		StartTime:     appt.StartTime,
		DurationHours: appt.DurationHours,
		BookedSlots:   booked,
		CustomerName:  appt.CustomerName,
		CustomerPhone: appt.CustomerPhone,
		Status:        appt.Status,
	}
	if previous != nil {
		payload.PreviousDate = previous.Date
		payload.PreviousStart = previous.StartTime
		payload.PreviousStaff = previous.StaffID
	}
	s.publish(eventType, payload)
}

func (s *BookingService) publish(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}
