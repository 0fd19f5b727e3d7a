package slots

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Codec converts between "HH:MM" strings and decimal hours for one BusinessHours
// configuration and owns the slot grid derived from it.
type Codec struct {
	hours  BusinessHours
	grid   []string
	onGrid map[string]struct{}
}

// NewCodec validates hours and precomputes the grid.
func NewCodec(hours BusinessHours) (*Codec, error) {
	if err := hours.Validate(); err != nil {
		return nil, err
	}

	c := &Codec{hours: hours}
	c.grid = c.buildGrid()
	c.onGrid = make(map[string]struct{}, len(c.grid))
	for _, t := range c.grid {
		c.onGrid[t] = struct{}{}
	}
	return c, nil
}

// MustCodec is NewCodec for known-good hours; it panics on invalid input.
func MustCodec(hours BusinessHours) *Codec {
	c, err := NewCodec(hours)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Codec) Hours() BusinessHours {
	return c.hours
}

// ToDecimal parses "HH:MM" into hours + minutes/60 rounded to three decimals.
func ToDecimal(value string) (float64, error) {
	raw := strings.TrimSpace(value)
	hourPart, minutePart, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, &ParseError{Value: value, Reason: "expected HH:MM"}
	}

	hour, err := parseDigits(hourPart)
	if err != nil {
		return 0, &ParseError{Value: value, Reason: "hour is not numeric"}
	}
	minute, err := parseDigits(minutePart)
	if err != nil {
		return 0, &ParseError{Value: value, Reason: "minute is not numeric"}
	}

	if minute >= 60 {
		return 0, &ParseError{Value: value, Reason: "minute must be below 60"}
	}
	if hour > 24 || (hour == 24 && minute > 0) {
		return 0, &ParseError{Value: value, Reason: "hour out of range"}
	}

	return round3(float64(hour) + float64(minute)/60), nil
}

func parseDigits(s string) (int, error) {
	if s == "" || len(s) > 2 {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// ToTimeString formats a decimal hour as "H:MM". The business-open hour is
// rendered zero-padded ("09:00") to match the first grid entry.
func (c *Codec) ToTimeString(decimal float64) string {
	hour := int(math.Floor(decimal))
	minute := int(math.Round((decimal - float64(hour)) * 60))
	if minute == 60 {
		hour++
		minute = 0
	}

	if math.Abs(decimal-c.hours.Open) < c.hours.Epsilon {
		return fmt.Sprintf("%02d:%02d", hour, minute)
	}
	return fmt.Sprintf("%d:%02d", hour, minute)
}

// Normalize returns the canonical grid spelling of a time ("09:15" -> "9:15").
func (c *Codec) Normalize(value string) (string, error) {
	d, err := ToDecimal(value)
	if err != nil {
		return "", err
	}
	return c.ToTimeString(d), nil
}

// Grid returns the ordered slot grid from open to close, both inclusive.
func (c *Codec) Grid() []string {
	out := make([]string, len(c.grid))
	copy(out, c.grid)
	return out
}

// GridSet returns the grid as a set.
func (c *Codec) GridSet() Set {
	return NewSet(c.grid...)
}

func (c *Codec) OnGrid(t string) bool {
	_, ok := c.onGrid[t]
	return ok
}

// CheckSlot normalizes value and verifies it is a grid slot.
func (c *Codec) CheckSlot(value string) (string, error) {
	t, err := c.Normalize(value)
	if err != nil {
		return "", err
	}
	if !c.OnGrid(t) {
		return "", &InvalidSlotError{Time: value}
	}
	return t, nil
}

func (c *Codec) buildGrid() []string {
	step := c.hours.step()
	count := int(math.Floor((c.hours.Close-c.hours.Open)/step + c.hours.Epsilon))

	grid := make([]string, 0, count+1)
	for i := 0; i <= count; i++ {
		grid = append(grid, c.ToTimeString(round3(c.hours.Open+float64(i)*step)))
	}
	return grid
}

// BlockWindow lists every slot tick of the whole day within the symmetric
// window (start-duration+eps, start+duration-eps). Ticks outside business
// hours are included; see GridWindow for the bookable subset.
func (c *Codec) BlockWindow(start string, duration float64) ([]string, error) {
	s, err := ToDecimal(start)
	if err != nil {
		return nil, err
	}

	lo := s - duration + c.hours.Epsilon
	hi := s + duration - c.hours.Epsilon
	step := c.hours.step()
	ticks := int(math.Round(24 / step))

	var window []string
	for k := 0; k < ticks; k++ {
		t := round3(float64(k) * step)
		if t > lo && t < hi {
			window = append(window, c.ToTimeString(t))
		}
	}
	return window, nil
}

// GridWindow is BlockWindow restricted to the grid. Time before open or after
// close does not exist and is never blocked.
func (c *Codec) GridWindow(start string, duration float64) ([]string, error) {
	window, err := c.BlockWindow(start, duration)
	if err != nil {
		return nil, err
	}

	out := window[:0]
	for _, t := range window {
		if c.OnGrid(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// RunsInto reports whether a job of duration starting at t would reach any
// slot of taken, i.e. taken intersects [t, t+duration-eps).
func (c *Codec) RunsInto(taken Set, t string, duration float64) bool {
	if taken.Has(t) {
		return true
	}
	start, err := ToDecimal(t)
	if err != nil {
		return false
	}
	end := start + duration - c.hours.Epsilon
	for u := range taken {
		d, err := ToDecimal(u)
		if err != nil {
			continue
		}
		if d > start-c.hours.Epsilon && d < end {
			return true
		}
	}
	return false
}
