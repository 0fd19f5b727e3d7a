package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncRelease()
		IncSlotConflict()
		IncNotification("confirmation", "completed")
	})
}

func TestIncAllocation(t *testing.T) {
	before := testutil.ToFloat64(allocations.WithLabelValues(ResultSuccess))
	IncAllocation(ResultSuccess)
	IncAllocation(ResultSuccess)
	assert.Equal(t, before+2, testutil.ToFloat64(allocations.WithLabelValues(ResultSuccess)))
}
