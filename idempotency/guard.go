package idempotency

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// Operation is the terminal business action the guard protects, e.g.
// "create payment". It returns the serialized response to store and replay.
type Operation func(ctx context.Context) (json.RawMessage, error)

// Result is the outcome of a guarded execution.
type Result struct {
	// Response is the operation's serialized result: fresh on first
	// execution, the stored original verbatim on replay.
	Response json.RawMessage

	// Replayed marks a short-circuited call that never invoked the
	// operation.
	Replayed bool

	// OriginalAt is the first execution's timestamp when Replayed.
	OriginalAt time.Time
}

// Guard wraps terminal operations with at-most-once semantics per
// client-supplied key.
type Guard struct {
	store Store

	// recordTTL is how long a stored response shields against replays.
	recordTTL time.Duration

	// pendingWait bounds how long a loser of a concurrent claim race waits
	// for the winner's stored response before giving up.
	pendingWait time.Duration
	pendingPoll time.Duration

	logger  *slog.Logger
	replays prometheus.Counter // optional
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRecordTTL overrides the default 24h record lifetime.
func WithRecordTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.recordTTL = ttl
		}
	}
}

// WithPendingWait bounds the wait for a concurrently executing claim holder.
func WithPendingWait(wait, poll time.Duration) GuardOption {
	return func(g *Guard) {
		if wait > 0 {
			g.pendingWait = wait
		}
		if poll > 0 {
			g.pendingPoll = poll
		}
	}
}

// WithGuardLogger sets the guard's logger.
func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithReplayCounter wires a counter incremented on every replayed response.
func WithReplayCounter(counter prometheus.Counter) GuardOption {
	return func(g *Guard) {
		g.replays = counter
	}
}

// NewGuard creates a guard over store.
func NewGuard(store Store, options ...GuardOption) *Guard {
	g := &Guard{
		store:       store,
		recordTTL:   24 * time.Hour,
		pendingWait: 3 * time.Second,
		pendingPoll: 100 * time.Millisecond,
		logger:      slog.Default().With("component", "idempotency"),
	}
	for _, opt := range options {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Execute runs op under key with at-most-once semantics:
//
//  1. Empty key: execute unprotected with a warning. The guard does not
//     force key adoption; callers skipping it accept duplicate-execution
//     risk.
//  2. Completed record exists and is unexpired: return the stored response
//     marked as a replay, without invoking op.
//  3. Claim granted: run op; on success persist the response, on failure
//     release the claim so a retry can re-execute.
//  4. Claim pending elsewhere: wait briefly for the winner's stored
//     response, then give up with a transient error.
//
// Store failures while claiming fail open: op runs unprotected with a
// warning, trading duplicate risk for availability. A failure while saving
// is logged and the fresh response still returned: the side effect already
// succeeded, and losing the replay guard is the lesser harm than losing the
// response.
func (g *Guard) Execute(ctx context.Context, key string, op Operation) (Result, error) {
	if key == "" {
		g.logger.Warn("idempotency key missing, executing unprotected")
		response, err := op(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Response: response}, nil
	}

	claim, err := g.store.Claim(ctx, key, g.recordTTL)
	if err != nil {
		// Fail-open: proceed as a first attempt
		g.logger.Warn("idempotency claim failed, executing unprotected",
			"key", key, "error", err)
		response, opErr := op(ctx)
		if opErr != nil {
			return Result{}, opErr
		}
		return Result{Response: response}, nil
	}

	switch claim.Outcome {
	case ClaimCompleted:
		return g.replay(key, claim.Record), nil

	case ClaimPending:
		return g.awaitPending(ctx, key)

	default: // ClaimGranted
	}

	response, opErr := op(ctx)
	if opErr != nil {
		if releaseErr := g.store.Release(ctx, key); releaseErr != nil {
			g.logger.Error("idempotency claim release failed",
				"key", key, "error", releaseErr)
		}
		return Result{}, opErr
	}

	if saveErr := g.store.Save(ctx, key, response, g.recordTTL); saveErr != nil {
		g.logger.Error("idempotency record save failed, returning fresh response",
			"key", key, "error", saveErr)
	}

	return Result{Response: response}, nil
}

// awaitPending polls for the claim winner's record until pendingWait runs
// out.
func (g *Guard) awaitPending(ctx context.Context, key string) (Result, error) {
	deadline := time.Now().Add(g.pendingWait)

	for time.Now().Before(deadline) {
		timer := time.NewTimer(g.pendingPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, errors.WrapTransient(ctx.Err(), "idempotency", "awaitPending",
				"cancelled while waiting for concurrent execution")
		case <-timer.C:
		}

		record, found, err := g.store.Get(ctx, key)
		if err != nil {
			g.logger.Warn("idempotency pending poll failed", "key", key, "error", err)
			continue
		}
		if found {
			return g.replay(key, record), nil
		}
	}

	return Result{}, errors.WrapTransient(errors.ErrClaimPending, "idempotency", "awaitPending",
		"concurrent execution with key "+key+" still in flight")
}

func (g *Guard) replay(key string, record *Record) Result {
	g.logger.Debug("idempotent replay", "key", key, "original_at", record.CreatedAt)
	if g.replays != nil {
		g.replays.Inc()
	}
	return Result{
		Response:   record.Response,
		Replayed:   true,
		OriginalAt: record.CreatedAt,
	}
}
