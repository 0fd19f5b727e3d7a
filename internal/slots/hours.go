package slots

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultOpen               = 9.0
	DefaultClose              = 18.0
	DefaultGranularityMinutes = 15
	DefaultJobHours           = 2.0
	DefaultEpsilon            = 0.001

	// DateFormat is the key format of a slot record date.
	DateFormat = "2006-01-02"
)

// BusinessHours describes the working day the slot grid is built from.
// Open and Close are decimal hours.
type BusinessHours struct {
	Open               float64
	Close              float64
	GranularityMinutes int
	DefaultJobHours    float64
	Epsilon            float64
}

// DefaultBusinessHours returns the shop's standard 09:00-18:00 day in quarter hours.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		Open:               DefaultOpen,
		Close:              DefaultClose,
		GranularityMinutes: DefaultGranularityMinutes,
		DefaultJobHours:    DefaultJobHours,
		Epsilon:            DefaultEpsilon,
	}
}

func (h BusinessHours) Validate() error {
	if h.Open < 0 || h.Close > 24 {
		return fmt.Errorf("business hours must be within 00:00-24:00, got %.3f-%.3f", h.Open, h.Close)
	}
	if h.Open >= h.Close {
		return errors.New("business hours: open must be before close")
	}
	if h.GranularityMinutes <= 0 || 60%h.GranularityMinutes != 0 {
		return fmt.Errorf("business hours: granularity %d must divide an hour", h.GranularityMinutes)
	}
	if h.DefaultJobHours <= 0 {
		return errors.New("business hours: default job duration must be positive")
	}
	if h.Epsilon <= 0 || h.Epsilon >= float64(h.GranularityMinutes)/60 {
		return errors.New("business hours: epsilon must be positive and smaller than one slot")
	}
	return nil
}

func (h BusinessHours) step() float64 {
	return float64(h.GranularityMinutes) / 60
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
