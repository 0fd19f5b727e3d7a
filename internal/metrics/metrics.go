package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tintbook"

// Allocation result labels.
const (
	ResultSuccess        = "success"
	ResultNoAvailability = "no_availability"
	ResultFullyBooked    = "fully_booked"
	ResultInvalid        = "invalid"
	ResultConflict       = "conflict"
	ResultError          = "error"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Slot allocation attempts by result.",
		},
		[]string{"result"},
	)

	releases = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Slot releases.",
		},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Versioned slot saves rejected because of a concurrent write.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by task type and status.",
		},
		[]string{"type", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, allocations, releases, slotConflicts, notifications)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncAllocation(result string) {
	allocations.WithLabelValues(result).Inc()
}

func IncRelease() {
	releases.Inc()
}

func IncSlotConflict() {
	slotConflicts.Inc()
}

func IncNotification(taskType, status string) {
	notifications.WithLabelValues(taskType, status).Inc()
}
