package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// localEntry is one resident entry of the local store.
type localEntry[V any] struct {
	value       V
	createdAt   time.Time
	expiresAt   *time.Time // nil means no expiration
	accessCount int64
	seq         uint64 // insertion sequence, deterministic eviction tie-break
}

// localCache is the bounded in-process fallback backend.
//
// Eviction is triggered only when an insert exceeds capacity. Every resident
// entry is scored accessCount / max(ageMinutes, 1) and the single
// lowest-scoring entry is evicted: entries that are both frequently and
// recently used score highest and survive. Ties are broken by insertion
// order (earliest inserted goes first).
//
// The store is instance-local and not authoritative: two process instances
// behind a load balancer may disagree on cached content. That is accepted
// soft degradation; state that must be shared belongs in the distributed
// backend.
type localCache[V any] struct {
	mu              sync.Mutex
	capacity        int
	cleanupInterval time.Duration
	entries         map[string]*localEntry[V]
	nextSeq         uint64
	stats           *Statistics
	metrics         *cacheMetrics
	evictFn         EvictCallback[V]

	now func() time.Time // overridable in tests

	// Background sweep coordination
	shutdown chan struct{}
	done     chan struct{}
}

// newLocalCache creates the bounded local store and starts its sweeper.
func newLocalCache[V any](
	ctx context.Context, capacity int, cleanupInterval time.Duration, opts *cacheOptions[V],
) (*localCache[V], error) {
	stats := NewStatistics()

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newLocalCache", "metrics registration")
		}
	}

	c := &localCache[V]{
		capacity:        capacity,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*localEntry[V]),
		stats:           stats,
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		now:             time.Now,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}

	go c.sweep(ctx)

	return c, nil
}

// Get retrieves a value by key, expiring lazily and counting the access.
func (c *localCache[V]) Get(_ context.Context, key string) (V, bool) {
	c.mu.Lock()

	entry, exists := c.entries[key]
	if !exists {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		c.mu.Unlock()

		var zero V
		return zero, false
	}

	// Lazy expiry: read-after-expiry deletes and reports a miss
	if entry.expiresAt != nil && c.now().After(*entry.expiresAt) {
		delete(c.entries, key)
		c.stats.Eviction()
		c.stats.Miss()
		c.stats.UpdateSize(int64(len(c.entries)))
		if c.metrics != nil {
			c.metrics.recordEviction()
			c.metrics.recordMiss()
			c.metrics.updateSize(len(c.entries))
		}
		c.mu.Unlock()

		// Callback after the lock is released; it may re-enter the cache
		if c.evictFn != nil {
			c.evictFn(key, entry.value)
		}

		var zero V
		return zero, false
	}

	entry.accessCount++
	value := entry.value

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	c.mu.Unlock()

	return value, true
}

// Set stores a value with no expiry.
func (c *localCache[V]) Set(ctx context.Context, key string, value V) error {
	return c.set(ctx, key, value, nil)
}

// SetWithTTL stores a value that expires after ttl.
func (c *localCache[V]) SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "SetWithTTL",
			fmt.Sprintf("ttl must be positive, got %v", ttl))
	}
	expiresAt := c.now().Add(ttl)
	return c.set(ctx, key, value, &expiresAt)
}

func (c *localCache[V]) set(_ context.Context, key string, value V, expiresAt *time.Time) error {
	if err := validateKey(key); err != nil {
		return err
	}

	c.mu.Lock()

	// Insert or replace wholesale: a replaced entry starts a fresh life,
	// access count included.
	c.entries[key] = &localEntry[V]{
		value:     value,
		createdAt: c.now(),
		expiresAt: expiresAt,
		seq:       c.nextSeq,
	}
	c.nextSeq++

	var victimKey string
	var victimValue V
	evicted := false
	if len(c.entries) > c.capacity {
		victimKey, victimValue, evicted = c.evictLowestScore()
	}

	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.entries)))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(len(c.entries))
	}
	c.mu.Unlock()

	if evicted && c.evictFn != nil {
		c.evictFn(victimKey, victimValue)
	}

	return nil
}

// Delete removes an entry by key.
func (c *localCache[V]) Delete(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()

	entry, exists := c.entries[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}

	delete(c.entries, key)

	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.entries)))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(len(c.entries))
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		c.evictFn(key, entry.value)
	}

	return true, nil
}

// Clear removes all entries from the cache.
func (c *localCache[V]) Clear(_ context.Context) error {
	c.mu.Lock()
	removed := c.entries
	c.entries = make(map[string]*localEntry[V])

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for key, entry := range removed {
			c.evictFn(key, entry.value)
		}
	}

	return nil
}

// Size returns the current number of entries in the cache.
func (c *localCache[V]) Size() int {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	return size
}

// Stats returns cache statistics.
func (c *localCache[V]) Stats() *Statistics {
	return c.stats
}

// Close shuts down the cache and stops the background sweeper.
func (c *localCache[V]) Close() error {
	select {
	case <-c.shutdown:
		// Already shutting down
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for sweeper goroutine to finish")
	}
}

// score computes the hybrid LFU/LRU eviction score for an entry:
// accessCount / max(ageMinutes, 1). Lower scores evict first.
func (c *localCache[V]) score(entry *localEntry[V], now time.Time) float64 {
	ageMinutes := now.Sub(entry.createdAt).Minutes()
	if ageMinutes < 1 {
		ageMinutes = 1
	}
	return float64(entry.accessCount) / ageMinutes
}

// evictLowestScore removes the single lowest-scoring resident entry and
// returns it so the caller can run the eviction callback after unlocking.
// Must be called with mutex held.
func (c *localCache[V]) evictLowestScore() (string, V, bool) {
	now := c.now()

	var victimKey string
	var victim *localEntry[V]
	var victimScore float64

	for key, entry := range c.entries {
		s := c.score(entry, now)
		if victim == nil || s < victimScore || (s == victimScore && entry.seq < victim.seq) {
			victimKey = key
			victim = entry
			victimScore = s
		}
	}

	if victim == nil {
		var zero V
		return "", zero, false
	}

	delete(c.entries, victimKey)
	c.stats.Eviction()
	if c.metrics != nil {
		c.metrics.recordEviction()
	}
	return victimKey, victim.value, true
}

// sweep periodically removes expired entries so stale memory is bounded
// even without reads.
func (c *localCache[V]) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired removes all expired entries from the cache.
func (c *localCache[V]) removeExpired() {
	c.mu.Lock()
	now := c.now()

	var removedKeys []string
	var removedValues []V
	for key, entry := range c.entries {
		if entry.expiresAt != nil && now.After(*entry.expiresAt) {
			removedKeys = append(removedKeys, key)
			removedValues = append(removedValues, entry.value)
			delete(c.entries, key)
		}
	}

	size := len(c.entries)
	c.mu.Unlock()

	// Callbacks outside the lock
	if c.evictFn != nil {
		for i, key := range removedKeys {
			c.evictFn(key, removedValues[i])
		}
	}

	if len(removedKeys) > 0 {
		for range removedKeys {
			c.stats.Eviction()
		}
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			for range removedKeys {
				c.metrics.recordEviction()
			}
			c.metrics.updateSize(size)
		}
	}
}
