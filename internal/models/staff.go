package models

import "time"

type Staff struct {
	ID                  string    `json:"id" yaml:"id"`
	Name                string    `json:"name" yaml:"name"`
	Phone               string    `json:"phone,omitempty" yaml:"phone"`
	Role                string    `json:"role" yaml:"role"`
	CanTakeAppointments bool      `json:"can_take_appointments" yaml:"can_take_appointments"`
	IsActive            bool      `json:"is_active" yaml:"is_active"`
	CreatedAt           time.Time `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time `json:"updated_at" yaml:"-"`
}

// Service is a catalog entry; DurationHours is the time a technician is busy.
type Service struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	DurationHours float64 `json:"duration_hours" yaml:"duration_hours"`
}
