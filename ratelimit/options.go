package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/metric"
)

// Option configures limiter behavior.
type Option func(*limiterOptions)

type limiterOptions struct {
	metricsReg    *metric.MetricsRegistry
	sweepInterval time.Duration
}

// WithMetrics enables Prometheus metrics for limiter decisions.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(opts *limiterOptions) {
		opts.metricsReg = registry
	}
}

// WithSweepInterval overrides how often elapsed buckets are removed.
func WithSweepInterval(interval time.Duration) Option {
	return func(opts *limiterOptions) {
		if interval > 0 {
			opts.sweepInterval = interval
		}
	}
}

func applyOptions(options ...Option) *limiterOptions {
	opts := &limiterOptions{
		sweepInterval: time.Minute,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}

// limiterMetrics holds Prometheus metrics for limiter decisions.
type limiterMetrics struct {
	decisions *prometheus.CounterVec
}

func newLimiterMetrics(registry *metric.MetricsRegistry) (*limiterMetrics, error) {
	m := &limiterMetrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "klinikmat",
				Subsystem: "ratelimit",
				Name:      "checks_total",
				Help:      "Rate limit checks by policy and outcome",
			},
			[]string{"policy", "outcome"},
		),
	}

	if err := registry.RegisterCounterVec("ratelimit", "checks", m.decisions); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *limiterMetrics) recordDecision(policy, outcome string) {
	m.decisions.WithLabelValues(policy, outcome).Inc()
}
