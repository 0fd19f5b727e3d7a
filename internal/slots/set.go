package slots

import (
	"sort"
	"strings"
)

// Set is an unordered collection of slot strings.
type Set map[string]struct{}

func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s Set) Has(t string) bool {
	_, ok := s[t]
	return ok
}

func (s Set) Add(items ...string) {
	for _, it := range items {
		s[it] = struct{}{}
	}
}

func (s Set) Remove(items ...string) {
	for _, it := range items {
		delete(s, it)
	}
}

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func (s Set) Union(other Set) Set {
	out := s.Clone()
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for k := range s {
		if other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// Minus returns s without the elements of other.
func (s Set) Minus(other Set) Set {
	out := make(Set)
	for k := range s {
		if !other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Items returns the raw elements ordered by their padded form.
func (s Set) Items() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return Pad(out[i]) < Pad(out[j]) })
	return out
}

// Sorted returns the elements as zero-padded "HH:MM" strings in lexical order.
func (s Set) Sorted() []string {
	return SortPadded(s.Items())
}

// Pad left-pads the hour of "H:MM" to two digits.
func Pad(t string) string {
	hour, minute, ok := strings.Cut(t, ":")
	if !ok {
		return t
	}
	if len(hour) == 1 {
		hour = "0" + hour
	}
	return hour + ":" + minute
}

// SortPadded pads every time and sorts the result lexically.
func SortPadded(times []string) []string {
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = Pad(t)
	}
	sort.Strings(out)
	return out
}
