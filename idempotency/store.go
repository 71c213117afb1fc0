// Package idempotency deduplicates retried mutating operations, most
// critically payment submission, so the underlying side effect executes at
// most once per client-supplied key.
//
// The guard claims the key atomically BEFORE executing the protected
// operation (first-writer-wins on the claim), then persists the response
// under the key once the operation succeeds. A concurrent second attempt
// finds the claim and either replays the stored response or briefly waits
// for the winner to finish. Executing first and recording after would leave
// a window where two concurrent first attempts both run the side effect;
// claim-before-execute closes it.
//
// Because the guard protects billable side effects across process instances,
// production deployments must use the durable, instance-shared store
// (RedisStore). The in-memory store exists for tests and single-instance
// development only and is unsafe behind a load balancer.
package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the durable result of the first successful execution under a
// key. Subsequent calls with the key return Response verbatim until
// ExpiresAt passes; after that the key is treated as brand-new and the
// operation re-executes. Keys are short-lived replay guards, not permanent
// locks.
type Record struct {
	Key       string          `json:"key"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// ClaimOutcome describes what the atomic claim found.
type ClaimOutcome int

const (
	// ClaimGranted means this caller owns the key and must execute the
	// operation, then Save or Release.
	ClaimGranted ClaimOutcome = iota

	// ClaimCompleted means a finished record exists; Record carries it.
	ClaimCompleted

	// ClaimPending means another caller holds the claim and is still
	// executing.
	ClaimPending
)

// Claim is the result of an atomic claim attempt.
type Claim struct {
	Outcome ClaimOutcome
	Record  *Record // set when Outcome == ClaimCompleted
}

// Store is the durable key->record store behind the guard.
type Store interface {
	// Claim atomically claims key for execution. First writer wins; later
	// callers observe ClaimPending until Save or Release, then
	// ClaimCompleted (after Save) or a fresh ClaimGranted (after Release
	// or expiry).
	Claim(ctx context.Context, key string, ttl time.Duration) (Claim, error)

	// Get returns the completed record for key, if one exists and is
	// unexpired. Expired records are deleted on read.
	Get(ctx context.Context, key string) (*Record, bool, error)

	// Save persists the response under a previously claimed key for ttl.
	Save(ctx context.Context, key string, response json.RawMessage, ttl time.Duration) error

	// Release abandons a claim after a failed execution so a retry can
	// re-execute.
	Release(ctx context.Context, key string) error

	// Close releases store resources.
	Close() error
}
