package models

// DayStatus is the aggregated view of one date across eligible staff.
type DayStatus struct {
	Date          string   `json:"date"`
	FullyBooked   bool     `json:"fully_booked"`
	ClearedOut    bool     `json:"cleared_out"`
	FreeStaff     int      `json:"free_staff"`
	EligibleStaff int      `json:"eligible_staff"`
	DurationHours float64  `json:"duration_hours"`
	Bookable      []string `json:"bookable"`
}

// StaffDay pairs a staff member with their record for a date.
// Record is nil when no record exists yet.
type StaffDay struct {
	Staff  Staff            `json:"staff"`
	Record *StaffSlotRecord `json:"record,omitempty"`
}
