package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the stablecoin engine service.
type Metrics struct {
	// --- Engine operations ---
	EngineOpsTotal   *prometheus.CounterVec   // op, outcome
	EngineOpDuration *prometheus.HistogramVec // op

	// --- Solvency & liquidation ---
	LiquidationsTotal prometheus.Counter
	OracleStaleTotal  *prometheus.CounterVec // asset
	SyntheticSupply   prometheus.Gauge       // whole-token units

	// --- Event pipeline ---
	EventsEmitted        *prometheus.CounterVec // event_type
	PublishDrops         prometheus.Counter
	PersistEventsWritten prometheus.Counter
	PersistErrors        prometheus.Counter
	PersistBatchSize     prometheus.Histogram

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec   // route, code
	HTTPDuration *prometheus.HistogramVec // route
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01,
	}
	httpBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		EngineOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_engine_ops_total",
			Help: "Engine operations by name and outcome (applied/rejected).",
		}, []string{"op", "outcome"}),
		EngineOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_engine_op_duration_seconds",
			Help:    "Engine operation duration.",
			Buckets: opBuckets,
		}, []string{"op"}),

		LiquidationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stable_liquidations_total",
			Help: "Completed liquidations.",
		}),
		OracleStaleTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_oracle_stale_total",
			Help: "Price reads rejected by the staleness guard, by asset.",
		}, []string{"asset"}),
		SyntheticSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stable_synthetic_supply",
			Help: "Total synthetic token supply in whole-token units.",
		}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_events_emitted_total",
			Help: "Engine events emitted, by type.",
		}, []string{"event_type"}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stable_publish_drops_total",
			Help: "Events dropped on the non-blocking publish channel.",
		}),
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_events_written_total",
			Help: "Events written to the Postgres event log.",
		}),
		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_errors_total",
			Help: "Event log write failures.",
		}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_persist_batch_size",
			Help:    "Rows per event log write batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_http_requests_total",
			Help: "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_http_request_duration_seconds",
			Help:    "HTTP API request duration.",
			Buckets: httpBuckets,
		}, []string{"route"}),
	}
}
