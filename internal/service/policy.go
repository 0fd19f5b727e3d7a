package service

import (
	"fmt"

	"tintbook/internal/slots"
)

type OverlapMode string

const (
	// OverlapPoint treats a staff member as free when the requested slot
	// itself is not taken.
	OverlapPoint OverlapMode = "point"
	// OverlapInterval requires the whole job [t, t+d) to be clear.
	OverlapInterval OverlapMode = "interval"
)

func ParseOverlapMode(s string) (OverlapMode, error) {
	switch OverlapMode(s) {
	case "", OverlapPoint:
		return OverlapPoint, nil
	case OverlapInterval:
		return OverlapInterval, nil
	default:
		return "", fmt.Errorf("unknown overlap mode %q", s)
	}
}

// slotPolicy decides whether a taken set can host a job.
type slotPolicy struct {
	codec *slots.Codec
	mode  OverlapMode
}

func (p slotPolicy) isFree(taken slots.Set, t string, duration float64) bool {
	if p.mode == OverlapInterval {
		return !p.codec.RunsInto(taken, t, duration)
	}
	return !taken.Has(t)
}
