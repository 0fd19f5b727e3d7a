package models

import "time"

type Appointment struct {
	ID            string    `json:"id"`
	StaffID       string    `json:"staff_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	DurationHours float64   `json:"duration_hours"`
	ServiceIDs    []string  `json:"service_ids"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	Notes         string    `json:"notes,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"version"`
}

func (a *Appointment) IsActive() bool {
	return a.Status == StatusBooked
}

// StartsAt combines Date and StartTime in loc.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation("2006-01-02 15:04", a.Date+" "+padClock(a.StartTime), loc)
}

func padClock(t string) string {
	if len(t) == 4 && t[1] == ':' {
		return "0" + t
	}
	return t
}
