// Package metrics exposes Prometheus counters for the booking page core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapis",
			Name:      "booking_created_total",
			Help:      "Count of booking submissions by outcome.",
		},
		[]string{"outcome"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapis",
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled by visitors.",
		},
	)

	bookingRescheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapis",
			Name:      "booking_rescheduled_total",
			Help:      "Count of bookings rescheduled by visitors.",
		},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapis",
			Name:      "slot_conflict_total",
			Help:      "Count of submissions rejected because the slot was already taken.",
		},
	)

	availabilityFetch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapis",
			Name:      "availability_fetch_total",
			Help:      "Count of availability fetches by outcome.",
		},
		[]string{"outcome"},
	)

	translationFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapis",
			Name:      "translation_fallback_total",
			Help:      "Count of slots served untranslated after a timezone conversion failure.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapis",
			Name:      "http_requests_total",
			Help:      "Count of HTTP API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingCancelled,
			bookingRescheduled,
			slotConflicts,
			availabilityFetch,
			translationFallback,
			httpRequests,
		)
	})
}

func IncBookingCreated(outcome string) {
	bookingCreated.WithLabelValues(outcome).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncBookingRescheduled() {
	bookingRescheduled.Inc()
}

func IncSlotConflict() {
	slotConflicts.Inc()
}

func IncAvailabilityFetch(outcome string) {
	availabilityFetch.WithLabelValues(outcome).Inc()
}

func IncTranslationFallback() {
	translationFallback.Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
