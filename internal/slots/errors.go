package slots

import "fmt"

// ParseError reports a malformed "HH:MM" value.
type ParseError struct {
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("slots: cannot parse time %q: %s", e.Value, e.Reason)
}

// InvalidSlotError reports a well-formed time that is not on the slot grid.
type InvalidSlotError struct {
	Time string
}

func (e *InvalidSlotError) Error() string {
	return fmt.Sprintf("slots: %q is not on the slot grid", e.Time)
}
