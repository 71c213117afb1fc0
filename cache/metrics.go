package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "klinikmat",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:      counter("hits_total", "Total number of cache hits"),
		misses:    counter("misses_total", "Total number of cache misses"),
		sets:      counter("sets_total", "Total number of cache set operations"),
		deletes:   counter("deletes_total", "Total number of cache delete operations"),
		evictions: counter("evictions_total", "Total number of cache evictions"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "klinikmat",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	if err := registry.RegisterCounter(prefix, "cache_hits", m.hits); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_misses", m.misses); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_sets", m.sets); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_deletes", m.deletes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()      { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()     { m.misses.Inc() }
func (m *cacheMetrics) recordSet()      { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()   { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction() { m.evictions.Inc() }

func (m *cacheMetrics) updateSize(size int) {
	m.size.Set(float64(size))
}
