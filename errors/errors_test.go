package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifiedWrapping(t *testing.T) {
	base := errors.New("boom")

	transient := WrapTransient(base, "cache", "Get", "redis read")
	assert.True(t, IsTransient(transient))
	assert.False(t, IsInvalid(transient))
	assert.False(t, IsFatal(transient))
	assert.ErrorIs(t, transient, base)
	assert.Contains(t, transient.Error(), "cache.Get")

	invalid := WrapInvalid(base, "pipeline", "ValidateBody", "decode")
	assert.True(t, IsInvalid(invalid))
	assert.False(t, IsTransient(invalid))

	fatal := WrapFatal(base, "config", "Load", "read file")
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsTransient(fatal))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestStandardErrorClassification(t *testing.T) {
	assert.True(t, IsTransient(ErrStoreUnavailable))
	assert.True(t, IsTransient(ErrConnectionTimeout))
	assert.True(t, IsTransient(ErrClaimPending))
	assert.True(t, IsTransient(context.DeadlineExceeded))

	assert.True(t, IsInvalid(ErrInvalidData))
	assert.True(t, IsInvalid(ErrBodyTooLarge))

	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrMissingConfig))
}

func TestTransientPatternMatching(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(fmt.Errorf("service temporarily unavailable")))
	assert.False(t, IsTransient(fmt.Errorf("schema mismatch")))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(ErrStoreUnavailable))
	assert.Equal(t, ErrorInvalid, Classify(WrapInvalid(fmt.Errorf("x"), "c", "m", "a")))
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(fmt.Errorf("x"), "c", "m", "a")))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("something unknown")), "unknown errors default to transient")
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := WrapInvalid(ErrInvalidData, "cache", "Set", "key check")
	outer := fmt.Errorf("outer context: %w", inner)
	assert.True(t, IsInvalid(outer), "classification must survive fmt.Errorf wrapping")
}

func TestShouldRetry(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.True(t, cfg.ShouldRetry(ErrStoreUnavailable, 0))
	assert.False(t, cfg.ShouldRetry(ErrStoreUnavailable, cfg.MaxRetries))
	assert.False(t, cfg.ShouldRetry(nil, 0))
	assert.False(t, cfg.ShouldRetry(WrapInvalid(fmt.Errorf("x"), "c", "m", "a"), 0))
}

func TestToRetryConfig(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}

	rc := cfg.ToRetryConfig()
	assert.Equal(t, 4, rc.MaxAttempts, "retries convert to total attempts")
	assert.Equal(t, 100*time.Millisecond, rc.InitialDelay)
	assert.True(t, rc.AddJitter)
}
