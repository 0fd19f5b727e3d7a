package models

import (
	"time"

	"tintbook/internal/slots"
)

// StaffSlotRecord holds the taken slots of one staff member on one date.
type StaffSlotRecord struct {
	ID         int64     `json:"id"`
	StaffID    string    `json:"staff_id"`
	Date       string    `json:"date"`
	Slots      slots.Set `json:"-"`
	ClearedOut bool      `json:"cleared_out"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewStaffSlotRecord returns an unsaved record with an empty taken set.
func NewStaffSlotRecord(staffID, date string) *StaffSlotRecord {
	return &StaffSlotRecord{
		StaffID: staffID,
		Date:    date,
		Slots:   slots.NewSet(),
	}
}

// Taken returns the taken set, never nil.
func (r *StaffSlotRecord) Taken() slots.Set {
	if r.Slots == nil {
		r.Slots = slots.NewSet()
	}
	return r.Slots
}

// Free is the derived free view: grid minus taken.
func (r *StaffSlotRecord) Free(grid slots.Set) slots.Set {
	if r.ClearedOut {
		return slots.NewSet()
	}
	return grid.Minus(r.Taken())
}

// Clone returns a deep copy so callers can mutate without touching the source.
func (r *StaffSlotRecord) Clone() *StaffSlotRecord {
	c := *r
	c.Slots = r.Taken().Clone()
	return &c
}

// SlotRecordView is the JSON shape of a record with sorted, padded slots.
type SlotRecordView struct {
	StaffID    string   `json:"staff_id"`
	Date       string   `json:"date"`
	Taken      []string `json:"taken"`
	ClearedOut bool     `json:"cleared_out"`
	Version    int64    `json:"version"`
}

func (r *StaffSlotRecord) View() SlotRecordView {
	return SlotRecordView{
		StaffID:    r.StaffID,
		Date:       r.Date,
		Taken:      r.Taken().Sorted(),
		ClearedOut: r.ClearedOut,
		Version:    r.Version,
	}
}
