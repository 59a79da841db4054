package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Name:      "bookings_created_total",
			Help:      "Count of booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Name:      "cancellations_total",
			Help:      "Count of cancellations by refund decision.",
		},
		[]string{"refund"},
	)

	reschedules = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Name:      "reschedules_total",
			Help:      "Count of reschedule attempts by outcome.",
		},
		[]string{"outcome"},
	)

	slotsMaterialized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Name:      "slots_materialized_total",
			Help:      "Count of slots produced by materialization queries.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingsCreated, cancellations, reschedules, slotsMaterialized)
	})
}

func IncBookingCreated(outcome string) {
	bookingsCreated.WithLabelValues(outcome).Inc()
}

func IncCancellation(refund string) {
	cancellations.WithLabelValues(refund).Inc()
}

func IncReschedule(outcome string) {
	reschedules.WithLabelValues(outcome).Inc()
}

func AddSlotsMaterialized(n int) {
	slotsMaterialized.Add(float64(n))
}
