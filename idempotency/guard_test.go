package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(context.Background())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExecuteReplaysStoredResponse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store)

	var executions atomic.Int64
	op := func(context.Context) (json.RawMessage, error) {
		executions.Add(1)
		return json.RawMessage(`{"payment_id":"p-1"}`), nil
	}

	first, err := guard.Execute(ctx, "key-1", op)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := guard.Execute(ctx, "key-1", op)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.False(t, second.OriginalAt.IsZero())

	assert.Equal(t, int64(1), executions.Load(), "operation must run exactly once")
	if diff := cmp.Diff(first.Response, second.Response); diff != "" {
		t.Errorf("replayed response differs from original (-first +second):\n%s", diff)
	}
}

func TestExecuteDistinctKeysExecuteIndependently(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store)

	var executions atomic.Int64
	op := func(context.Context) (json.RawMessage, error) {
		n := executions.Add(1)
		return json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)), nil
	}

	a, err := guard.Execute(ctx, "key-a", op)
	require.NoError(t, err)
	b, err := guard.Execute(ctx, "key-b", op)
	require.NoError(t, err)

	assert.Equal(t, int64(2), executions.Load())
	assert.NotEqual(t, string(a.Response), string(b.Response))
}

func TestExecuteEmptyKeyRunsUnprotected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store)

	var executions atomic.Int64
	op := func(context.Context) (json.RawMessage, error) {
		executions.Add(1)
		return json.RawMessage(`{}`), nil
	}

	for i := 0; i < 3; i++ {
		result, err := guard.Execute(ctx, "", op)
		require.NoError(t, err)
		assert.False(t, result.Replayed)
	}
	assert.Equal(t, int64(3), executions.Load(), "every keyless call executes")
	assert.Equal(t, 0, store.Size(), "keyless calls leave no records")
}

func TestExecuteFailureReleasesClaim(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store)

	calls := 0
	op := func(context.Context) (json.RawMessage, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("processor unavailable")
		}
		return json.RawMessage(`{"ok":true}`), nil
	}

	_, err := guard.Execute(ctx, "key-1", op)
	require.Error(t, err)

	// The failed attempt released the claim, so a retry re-executes
	result, err := guard.Execute(ctx, "key-1", op)
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, 2, calls)
}

func TestExecuteExpiredRecordReExecutes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store, WithRecordTTL(24*time.Hour))

	base := time.Now()
	store.now = func() time.Time { return base }

	var executions atomic.Int64
	op := func(context.Context) (json.RawMessage, error) {
		executions.Add(1)
		return json.RawMessage(`{"ok":true}`), nil
	}

	_, err := guard.Execute(ctx, "key-1", op)
	require.NoError(t, err)

	// 25 hours later the record has expired; the key is claimable again
	store.now = func() time.Time { return base.Add(25 * time.Hour) }

	result, err := guard.Execute(ctx, "key-1", op)
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(2), executions.Load())
}

func TestExecuteConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store, WithPendingWait(2*time.Second, 10*time.Millisecond))

	var executions atomic.Int64
	op := func(context.Context) (json.RawMessage, error) {
		executions.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the claim briefly
		return json.RawMessage(`{"payment_id":"p-77"}`), nil
	}

	const goroutines = 8
	results := make([]Result, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = guard.Execute(ctx, "shared-key", op)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), executions.Load(), "exactly one goroutine executes")

	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i], "goroutine %d", i)
		assert.JSONEq(t, `{"payment_id":"p-77"}`, string(results[i].Response), "goroutine %d", i)
	}
}

// failingStore simulates an unavailable backing store.
type failingStore struct{}

func (failingStore) Claim(context.Context, string, time.Duration) (Claim, error) {
	return Claim{}, errors.WrapTransient(errors.ErrStoreUnavailable, "idempotency", "Claim", "test failure")
}

func (failingStore) Get(context.Context, string) (*Record, bool, error) {
	return nil, false, errors.ErrStoreUnavailable
}

func (failingStore) Save(context.Context, string, json.RawMessage, time.Duration) error {
	return errors.ErrStoreUnavailable
}

func (failingStore) Release(context.Context, string) error { return errors.ErrStoreUnavailable }
func (failingStore) Close() error                          { return nil }

func TestExecuteFailsOpenOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(failingStore{})

	var executions atomic.Int64
	op := func(context.Context) (json.RawMessage, error) {
		executions.Add(1)
		return json.RawMessage(`{"ok":true}`), nil
	}

	result, err := guard.Execute(ctx, "key-1", op)
	require.NoError(t, err, "store failure must not block the operation")
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(1), executions.Load())
}

// saveFailStore claims fine but cannot persist records.
type saveFailStore struct {
	*MemoryStore
}

func (s saveFailStore) Save(context.Context, string, json.RawMessage, time.Duration) error {
	return errors.ErrStoreUnavailable
}

func TestExecuteSaveFailureStillReturnsResponse(t *testing.T) {
	ctx := context.Background()
	store := saveFailStore{MemoryStore: newTestStore(t)}
	guard := NewGuard(store)

	result, err := guard.Execute(ctx, "key-1", func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"payment_id":"p-9"}`), nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"payment_id":"p-9"}`, string(result.Response))
}

func TestAwaitPendingGivesUp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	guard := NewGuard(store, WithPendingWait(100*time.Millisecond, 20*time.Millisecond))

	// Plant a pending claim that never completes
	claim, err := store.Claim(ctx, "stuck-key", time.Hour)
	require.NoError(t, err)
	require.Equal(t, ClaimGranted, claim.Outcome)

	_, err = guard.Execute(ctx, "stuck-key", func(context.Context) (json.RawMessage, error) {
		t.Fatal("operation must not run while the key is claimed elsewhere")
		return nil, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrClaimPending)
}
