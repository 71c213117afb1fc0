package cache

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/pkg/retry"
)

// New selects a backend once at construction time: if a distributed store is
// configured and the reachability probe succeeds, the Redis backend is used;
// otherwise the bounded local store takes over. The choice is never
// re-evaluated per call, so behavior stays consistent within a session.
func New[V any](ctx context.Context, cfg Config, options ...Option[V]) (Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "New", "config validation")
	}

	opts := applyOptions(options...)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})

		probeErr := retry.Do(ctx, retry.Quick(), func() error {
			probeCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
			defer cancel()
			return client.Ping(probeCtx).Err()
		})

		if probeErr == nil {
			opts.logger.Info("cache backend selected", "backend", "redis", "addr", cfg.Redis.Addr)
			if opts.backendGauge != nil {
				opts.backendGauge.Set(0)
			}
			return newRedisCache[V](client, cfg.Redis.OpTimeout, opts)
		}

		_ = client.Close()
		opts.logger.Warn("distributed cache unreachable, falling back to local store",
			"addr", cfg.Redis.Addr, "error", probeErr)
	}

	opts.logger.Info("cache backend selected", "backend", "local", "capacity", cfg.Capacity)
	if opts.backendGauge != nil {
		opts.backendGauge.Set(1)
	}
	return newLocalCache[V](ctx, cfg.Capacity, cfg.CleanupInterval, opts)
}

// NewLocal constructs the bounded local backend directly, bypassing the
// distributed-store probe. Useful in tests and single-instance deployments.
func NewLocal[V any](ctx context.Context, capacity int, cfg Config, options ...Option[V]) (Cache[V], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLocal",
			"capacity must be positive")
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = DefaultConfig().CleanupInterval
	}
	opts := applyOptions(options...)
	return newLocalCache[V](ctx, capacity, cleanup, opts)
}
