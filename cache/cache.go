// Package cache provides the backend-agnostic caching contract for the
// protection layer, with a bounded local implementation and a Redis-backed
// distributed implementation sharing the same interface.
//
// Backend selection happens once at construction: if a distributed store is
// configured and reachable, it is used for the lifetime of the cache;
// otherwise a bounded local store takes over. The choice is never
// re-evaluated per call.
//
// All implementations are thread-safe, collect statistics unconditionally,
// and optionally export Prometheus metrics via functional options.
package cache

import (
	"context"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// Cache is the contract every backend must satisfy. The cache is
// parameterized by value type V for type safety.
//
// Backend I/O failures never surface through this interface: reads degrade
// to misses and writes to no-ops, with the failure logged. Callers only see
// errors for invalid input (empty key, unserializable value).
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true on a hit,
	// zero value and false if the key is missing or expired. Every hit
	// increments the entry's access count.
	Get(ctx context.Context, key string) (V, bool)

	// Set stores a value with no expiry: it stays until evicted or
	// explicitly cleared.
	Set(ctx context.Context, key string, value V) error

	// SetWithTTL stores a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) error

	// Delete removes an entry by key. Returns true if a record existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Clear drops all entries. Dangerous in multi-tenant deployments:
	// every tenant sharing the backend loses its cached state. Use sparingly.
	Clear(ctx context.Context) error

	// Size returns the current number of entries in the cache.
	Size() int

	// Stats returns cache statistics. Never nil.
	Stats() *Statistics

	// Close shuts down the cache and releases any resources
	// (background sweeper goroutines, client connections).
	Close() error
}

// EvictCallback is called when an entry is evicted from the local cache.
// It runs outside the cache's lock and may safely re-enter the cache.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
