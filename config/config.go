// Package config provides file-based configuration for the protection
// layer gateway. Duration fields accept both strings ("15m", "24h") and
// integer nanoseconds.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/cache"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/idempotency"
)

// Config is the root configuration object, constructed once at startup and
// passed by reference to every component. There is no global mutable state.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Cache       cache.Config      `json:"cache"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Idempotency IdempotencyConfig `json:"idempotency"`
	Log         LogConfig         `json:"log"`
}

// ServerConfig configures the gateway HTTP listener.
type ServerConfig struct {
	Addr            string        `json:"addr"`
	MetricsPort     int           `json:"metrics_port"`
	TrustForwarded  bool          `json:"trust_forwarded"`
	MaxBodyBytes    int64         `json:"max_body_bytes"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	SweepInterval time.Duration `json:"sweep_interval"`
}

// IdempotencyConfig configures the idempotency guard and its store.
type IdempotencyConfig struct {
	Redis       idempotency.RedisStoreConfig `json:"redis"`
	RecordTTL   time.Duration                `json:"record_ttl"`
	PendingWait time.Duration                `json:"pending_wait"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsPort:     9090,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: cache.DefaultConfig(),
		RateLimit: RateLimitConfig{
			SweepInterval: time.Minute,
		},
		Idempotency: IdempotencyConfig{
			RecordTTL:   24 * time.Hour,
			PendingWait: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and validates a JSON config file, layered over defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.WrapInvalid(err, "config", "Load", "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the whole configuration tree.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
			"server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes))
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.RateLimit.SweepInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("rate_limit.sweep_interval must be positive, got %v", c.RateLimit.SweepInterval))
	}
	if c.Idempotency.RecordTTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("idempotency.record_ttl must be positive, got %v", c.Idempotency.RecordTTL))
	}
	return nil
}

// UnmarshalJSON accepts duration fields as strings or integer nanoseconds.
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	type Alias ServerConfig
	aux := &struct {
		ShutdownTimeout json.RawMessage `json:"shutdown_timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.ShutdownTimeout) > 0 {
		d, err := parseDurationField(aux.ShutdownTimeout, "shutdown_timeout")
		if err != nil {
			return err
		}
		c.ShutdownTimeout = d
	}
	return nil
}

// UnmarshalJSON accepts duration fields as strings or integer nanoseconds.
func (c *RateLimitConfig) UnmarshalJSON(data []byte) error {
	type Alias RateLimitConfig
	aux := &struct {
		SweepInterval json.RawMessage `json:"sweep_interval,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.SweepInterval) > 0 {
		d, err := parseDurationField(aux.SweepInterval, "sweep_interval")
		if err != nil {
			return err
		}
		c.SweepInterval = d
	}
	return nil
}

// UnmarshalJSON accepts duration fields as strings or integer nanoseconds.
func (c *IdempotencyConfig) UnmarshalJSON(data []byte) error {
	type Alias IdempotencyConfig
	aux := &struct {
		RecordTTL   json.RawMessage `json:"record_ttl,omitempty"`
		PendingWait json.RawMessage `json:"pending_wait,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.RecordTTL) > 0 {
		d, err := parseDurationField(aux.RecordTTL, "record_ttl")
		if err != nil {
			return err
		}
		c.RecordTTL = d
	}
	if len(aux.PendingWait) > 0 {
		d, err := parseDurationField(aux.PendingWait, "pending_wait")
		if err != nil {
			return err
		}
		c.PendingWait = d
	}
	return nil
}
