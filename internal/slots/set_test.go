package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOperations(t *testing.T) {
	a := NewSet("09:00", "9:15", "9:30")
	b := NewSet("9:30", "9:45")

	assert.ElementsMatch(t, []string{"09:00", "9:15", "9:30", "9:45"}, a.Union(b).Items())
	assert.ElementsMatch(t, []string{"9:30"}, a.Intersect(b).Items())
	assert.ElementsMatch(t, []string{"09:00", "9:15"}, a.Minus(b).Items())
	assert.True(t, a.Equal(a.Clone()))
	assert.False(t, a.Equal(b))

	c := a.Clone()
	c.Remove("09:00")
	assert.True(t, a.Has("09:00"), "clone must not alias the source")
}

func TestSortedPadsHours(t *testing.T) {
	s := NewSet("10:00", "9:15", "09:00", "13:45", "8:15")
	assert.Equal(t, []string{"08:15", "09:00", "09:15", "10:00", "13:45"}, s.Sorted())
	assert.Equal(t, []string{"8:15", "09:00", "9:15", "10:00", "13:45"}, s.Items())
}

func TestPad(t *testing.T) {
	assert.Equal(t, "09:15", Pad("9:15"))
	assert.Equal(t, "11:00", Pad("11:00"))
	assert.Equal(t, "garbage", Pad("garbage"))
}
