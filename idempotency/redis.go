package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

const keyPrefix = "idem:"

// storedEntry is the wire form of a claim or completed record in Redis.
type storedEntry struct {
	Status    string          `json:"status"` // "pending" or "completed"
	Response  json.RawMessage `json:"response,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
}

const (
	statusPending   = "pending"
	statusCompleted = "completed"
)

// RedisStore is the durable, instance-shared idempotency store required for
// multi-instance deployments. Claims use SET NX so exactly one instance wins
// a key; record expiry rides on Redis native TTLs.
type RedisStore struct {
	client *redis.Client

	// pendingTTL bounds how long an unreleased claim blocks the key if the
	// claiming process dies mid-execution.
	pendingTTL time.Duration

	opTimeout time.Duration
}

// RedisStoreConfig configures the Redis-backed store.
type RedisStoreConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`

	// PendingTTL bounds orphaned claims. Defaults to 30s.
	PendingTTL time.Duration `json:"pending_ttl"`

	// OpTimeout bounds every store operation. Defaults to 2s.
	OpTimeout time.Duration `json:"op_timeout"`
}

// UnmarshalJSON accepts duration fields as strings or integer nanoseconds.
func (c *RedisStoreConfig) UnmarshalJSON(data []byte) error {
	type Alias RedisStoreConfig
	aux := &struct {
		PendingTTL json.RawMessage `json:"pending_ttl,omitempty"`
		OpTimeout  json.RawMessage `json:"op_timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.PendingTTL) > 0 {
		d, err := parseDurationField(aux.PendingTTL, "pending_ttl")
		if err != nil {
			return err
		}
		c.PendingTTL = d
	}
	if len(aux.OpTimeout) > 0 {
		d, err := parseDurationField(aux.OpTimeout, "op_timeout")
		if err != nil {
			return err
		}
		c.OpTimeout = d
	}
	return nil
}

// parseDurationField parses a JSON duration field that can be either a
// string ("1h", "5m", "30s") or an integer (nanoseconds).
func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '1h') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}

// NewRedisStore connects and verifies reachability. Unlike the cache, the
// idempotency store has no silent local fallback: an unreachable store is a
// construction error because a local-only substitute cannot guarantee
// at-most-once side effects across instances.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "idempotency", "NewRedisStore",
			"redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WrapTransient(err, "idempotency", "NewRedisStore", "redis ping")
	}

	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}

	return &RedisStore{
		client:     client,
		pendingTTL: cfg.PendingTTL,
		opTimeout:  cfg.OpTimeout,
	}, nil
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Claim atomically claims key. SET NX makes the first writer win; everyone
// else reads the existing entry to learn whether execution finished.
func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (Claim, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now()
	pending := storedEntry{Status: statusPending, CreatedAt: now}
	payload, err := json.Marshal(pending)
	if err != nil {
		return Claim{}, errors.WrapInvalid(err, "idempotency", "Claim", "claim marshal")
	}

	ok, err := s.client.SetNX(opCtx, keyPrefix+key, payload, s.pendingTTL).Result()
	if err != nil {
		return Claim{}, errors.WrapTransient(err, "idempotency", "Claim", "redis setnx")
	}
	if ok {
		return Claim{Outcome: ClaimGranted}, nil
	}

	// Key already held: pending claim or completed record
	entry, found, err := s.read(opCtx, key)
	if err != nil {
		return Claim{}, err
	}
	if !found {
		// Holder vanished between SETNX and GET (released or expired);
		// treat as pending, the caller retries shortly
		return Claim{Outcome: ClaimPending}, nil
	}

	if entry.Status == statusCompleted {
		return Claim{Outcome: ClaimCompleted, Record: entryToRecord(key, entry)}, nil
	}
	return Claim{Outcome: ClaimPending}, nil
}

// Get returns the completed record for key, if any. Pending claims do not
// count as records.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	entry, found, err := s.read(opCtx, key)
	if err != nil || !found {
		return nil, false, err
	}
	if entry.Status != statusCompleted {
		return nil, false, nil
	}
	return entryToRecord(key, entry), true, nil
}

// Save overwrites the pending claim with the completed record and extends
// the TTL to the full record lifetime.
func (s *RedisStore) Save(ctx context.Context, key string, response json.RawMessage, ttl time.Duration) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now()
	entry := storedEntry{
		Status:    statusCompleted,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.WrapInvalid(err, "idempotency", "Save", "record marshal")
	}

	if err := s.client.Set(opCtx, keyPrefix+key, payload, ttl).Err(); err != nil {
		return errors.WrapTransient(err, "idempotency", "Save", "redis set")
	}
	return nil
}

// Release abandons a claim after a failed execution.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Del(opCtx, keyPrefix+key).Err(); err != nil {
		return errors.WrapTransient(err, "idempotency", "Release", "redis del")
	}
	return nil
}

// Close releases the client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) read(ctx context.Context, key string) (*storedEntry, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WrapTransient(err, "idempotency", "read", "redis get")
	}

	var entry storedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, errors.WrapInvalid(err, "idempotency", "read", "record unmarshal")
	}
	return &entry, true, nil
}

func entryToRecord(key string, entry *storedEntry) *Record {
	return &Record{
		Key:       key,
		Response:  entry.Response,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}
}
