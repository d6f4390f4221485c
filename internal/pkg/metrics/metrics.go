package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unlock_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unlock_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// UnlockSagasTotal counts finished unlock sagas by outcome:
	// unlocked, already_unlocked, insufficient_credits, pricing_unavailable, failed, busy.
	UnlockSagasTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unlock_api_unlock_sagas_total",
			Help: "Total number of unlock sagas by outcome",
		},
		[]string{"outcome"},
	)

	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unlock_api_compensations_total",
			Help: "Ledger compensations attempted after a failed grant write",
		},
		[]string{"result"},
	)

	DegradedGrantsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unlock_api_degraded_grants_total",
			Help: "Unlocks recorded in ledger-only mode because no grant table was usable",
		},
	)

	SchemaInspectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unlock_api_schema_inspections_total",
			Help: "Uncached schema inspections by verdict",
		},
		[]string{"verdict"},
	)

	SweepRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unlock_api_sweep_rows_total",
			Help: "Grant rows touched by reset sweeps",
		},
		[]string{"action"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unlock_api_notifications_total",
			Help: "Unlock notification dispatches by recipient and result",
		},
		[]string{"recipient", "result"},
	)

	StoreCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unlock_api_store_call_duration_seconds",
			Help:    "Duration of ledger and grant store calls",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 3},
		},
		[]string{"op"},
	)
)

// ObserveStoreCall records the elapsed time of a store operation started at start.
func ObserveStoreCall(op string, start time.Time) {
	StoreCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
