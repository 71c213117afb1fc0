package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// redisCache is the distributed backend. Values are JSON-encoded and TTLs
// are translated to Redis native expiry, rounded up to whole seconds.
//
// Any I/O failure is fail-open: a miss on read, a no-op on write, logged at
// error level. The cache never raises on a backend failure; callers just see
// uncached behavior.
type redisCache[V any] struct {
	client    *redis.Client
	opTimeout time.Duration
	stats     *Statistics
	metrics   *cacheMetrics
	logger    *slog.Logger
}

// newRedisCache wraps an already-probed client.
func newRedisCache[V any](client *redis.Client, opTimeout time.Duration, opts *cacheOptions[V]) (*redisCache[V], error) {
	stats := NewStatistics()

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newRedisCache", "metrics registration")
		}
	}

	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}

	return &redisCache[V]{
		client:    client,
		opTimeout: opTimeout,
		stats:     stats,
		metrics:   metrics,
		logger:    opts.logger,
	}, nil
}

// opContext bounds a backend call; on timeout the operation degrades
// instead of blocking the request.
func (c *redisCache[V]) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get retrieves a value by key. Backend failures degrade to a miss.
func (c *redisCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	data, err := c.client.Get(opCtx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Error("distributed cache read failed, degrading to miss",
				"key", key, "error", err)
		}
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		return zero, false
	}

	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		// Stored payload no longer decodes into V; drop it and miss
		c.logger.Error("distributed cache entry corrupt, dropping",
			"key", key, "error", err)
		_ = c.client.Del(opCtx, key).Err()
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		return zero, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}

	return value, true
}

// Set stores a value with no expiry.
func (c *redisCache[V]) Set(ctx context.Context, key string, value V) error {
	return c.set(ctx, key, value, 0)
}

// SetWithTTL stores a value with native Redis expiry, ttl rounded up to
// whole seconds.
func (c *redisCache[V]) SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "SetWithTTL",
			"ttl must be positive")
	}
	return c.set(ctx, key, value, roundUpToSeconds(ttl))
}

func (c *redisCache[V]) set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.WrapInvalid(err, "cache", "set", "value marshal")
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.client.Set(opCtx, key, data, ttl).Err(); err != nil {
		// Fail-open: write degrades to a no-op
		c.logger.Error("distributed cache write failed, entry not cached",
			"key", key, "error", err)
		return nil
	}

	c.stats.Set()
	if c.metrics != nil {
		c.metrics.recordSet()
	}

	return nil
}

// Delete removes an entry by key. Backend failures degrade to "not found".
func (c *redisCache[V]) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	removed, err := c.client.Del(opCtx, key).Result()
	if err != nil {
		c.logger.Error("distributed cache delete failed",
			"key", key, "error", err)
		return false, nil
	}

	if removed > 0 {
		c.stats.Delete()
		if c.metrics != nil {
			c.metrics.recordDelete()
		}
	}

	return removed > 0, nil
}

// Clear flushes the whole logical database. Dangerous in multi-tenant
// deployments: every tenant sharing the database loses its cached state.
func (c *redisCache[V]) Clear(ctx context.Context) error {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.client.FlushDB(opCtx).Err(); err != nil {
		c.logger.Error("distributed cache clear failed", "error", err)
	}
	return nil
}

// Size reports the entry count of the logical database. The cache assumes a
// dedicated database index; a shared index inflates this number.
func (c *redisCache[V]) Size() int {
	opCtx, cancel := c.opContext(context.Background())
	defer cancel()

	n, err := c.client.DBSize(opCtx).Result()
	if err != nil {
		c.logger.Error("distributed cache size probe failed", "error", err)
		return 0
	}
	return int(n)
}

// Stats returns cache statistics.
func (c *redisCache[V]) Stats() *Statistics {
	return c.stats
}

// Close releases the client connection.
func (c *redisCache[V]) Close() error {
	return c.client.Close()
}

// roundUpToSeconds converts a TTL to whole-second granularity, rounding up
// so entries never expire earlier than requested.
func roundUpToSeconds(ttl time.Duration) time.Duration {
	return time.Duration(math.Ceil(ttl.Seconds())) * time.Second
}
