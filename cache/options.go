package cache

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Stats are ALWAYS collected - they are not optional.
// Prometheus metrics are optional and enabled via WithMetrics().
type cacheOptions[V any] struct {
	// metricsReg is optional - if provided, cache stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string

	// evictCallback is called when items are evicted from the local cache
	evictCallback EvictCallback[V]

	// logger receives backend-failure and fallback logs
	logger *slog.Logger

	// backendGauge, if set, reads 1 on the local backend and 0 on the
	// distributed backend
	backendGauge prometheus.Gauge
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked with the key and value of
// every entry evicted from the local store.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithLogger sets the logger used for backend failures and fallback notices.
func WithLogger[V any](logger *slog.Logger) Option[V] {
	return func(opts *cacheOptions[V]) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithBackendGauge publishes which backend construction selected, so a
// silent fallback to the local store is visible on a dashboard.
func WithBackendGauge[V any](gauge prometheus.Gauge) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.backendGauge = gauge
	}
}

// applyOptions applies functional options to create final cache configuration.
func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		logger: slog.Default().With("component", "cache"),
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
