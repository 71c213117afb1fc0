package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec

	// Protection-layer metrics
	RateLimitDecisions *prometheus.CounterVec
	IdempotentReplays  prometheus.Counter
	CacheBackendLocal  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "klinikmat",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of requests entering the pipeline",
			},
			[]string{"route", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "klinikmat",
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Request handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "klinikmat",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "klinikmat",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Rate limit decisions by policy and outcome",
			},
			[]string{"policy", "outcome"},
		),

		IdempotentReplays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "klinikmat",
				Subsystem: "idempotency",
				Name:      "replays_total",
				Help:      "Total number of replayed idempotent responses",
			},
		),

		CacheBackendLocal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "klinikmat",
				Subsystem: "cache",
				Name:      "backend_local",
				Help:      "1 when the cache runs on the local fallback backend, 0 when distributed",
			},
		),
	}
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(route string, status string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
