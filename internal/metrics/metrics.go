package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Gateway webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	BookingsMaterialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_materialized_total",
			Help: "Materialization attempts by booking kind and result",
		},
		[]string{"kind", "result"},
	)

	AwaitBooking = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "await_booking_total",
			Help: "Await-booking responses by returned status",
		},
		[]string{"status"},
	)

	Cancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cancellations_total",
			Help: "Executed booking cancellations by actor role",
		},
		[]string{"actor"},
	)

	WalletMovements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_movements_total",
			Help: "Applied wallet movements by transaction type",
		},
		[]string{"type"},
	)

	SweepRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_rows_total",
			Help: "Rows handled by scheduled sweeps",
		},
		[]string{"sweep", "result"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of scheduled sweeps",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"sweep"},
	)
)
