package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// RedisConfig configures the optional distributed backend. An empty Addr
// disables the distributed backend entirely and the cache runs local-only.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`

	// DialTimeout bounds the construction-time reachability probe.
	DialTimeout time.Duration `json:"dial_timeout"`

	// OpTimeout bounds every cache operation against the backend.
	OpTimeout time.Duration `json:"op_timeout"`
}

// Config contains configuration for cache creation.
type Config struct {
	// Capacity is the maximum number of entries for the local store.
	Capacity int `json:"capacity"`

	// CleanupInterval is how often the background sweep removes expired
	// entries from the local store.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// Redis configures the distributed backend.
	Redis RedisConfig `json:"redis"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:        1000,
		CleanupInterval: 10 * time.Minute,
		Redis: RedisConfig{
			DialTimeout: 2 * time.Second,
			OpTimeout:   2 * time.Second,
		},
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("capacity must be positive, got %d", c.Capacity))
	}
	if c.CleanupInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("cleanup_interval must be positive, got %v", c.CleanupInterval))
	}
	if c.Redis.Addr != "" {
		if c.Redis.DialTimeout < 0 || c.Redis.OpTimeout < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
				"redis timeouts cannot be negative")
		}
	}
	return nil
}

// UnmarshalJSON accepts duration fields as strings or integer nanoseconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		CleanupInterval json.RawMessage `json:"cleanup_interval,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.CleanupInterval) > 0 {
		interval, err := parseDurationField(aux.CleanupInterval, "cleanup_interval")
		if err != nil {
			return err
		}
		c.CleanupInterval = interval
	}
	return nil
}

// UnmarshalJSON accepts duration fields as strings or integer nanoseconds.
func (c *RedisConfig) UnmarshalJSON(data []byte) error {
	type Alias RedisConfig
	aux := &struct {
		DialTimeout json.RawMessage `json:"dial_timeout,omitempty"`
		OpTimeout   json.RawMessage `json:"op_timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.DialTimeout) > 0 {
		d, err := parseDurationField(aux.DialTimeout, "dial_timeout")
		if err != nil {
			return err
		}
		c.DialTimeout = d
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

// Illustrative TTLs for the platform's cache tiers. Tunable per call site.
const (
	// ReadTTL suits short-lived read caches.
	ReadTTL = 60 * time.Second

	// ContentTTL suits list/detail content caches.
	ContentTTL = 15 * time.Minute

	// LookupTTL suits external-lookup caches.
	LookupTTL = 24 * time.Hour
)
