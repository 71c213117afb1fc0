package ratelimit

import (
	"fmt"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// Policy is a named fixed-window throttling tuple. Callers pick a policy per
// route class.
type Policy struct {
	Name        string        `json:"name"`
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
}

// Standard policies for the platform's route classes.
var (
	// Public covers unauthenticated browsing endpoints.
	Public = Policy{Name: "public", Window: time.Minute, MaxRequests: 100}

	// Authenticated covers logged-in read traffic.
	Authenticated = Policy{Name: "authenticated", Window: time.Minute, MaxRequests: 60}

	// Write covers general mutating endpoints.
	Write = Policy{Name: "write", Window: time.Minute, MaxRequests: 30}

	// Auth covers login/credential endpoints, throttled hard to slow
	// credential stuffing.
	Auth = Policy{Name: "auth", Window: 5 * time.Minute, MaxRequests: 5}

	// ResultsWrite covers case-result submission endpoints.
	ResultsWrite = Policy{Name: "results_write", Window: time.Minute, MaxRequests: 20}
)

// Validate checks policy sanity.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ratelimit", "Validate",
			fmt.Sprintf("policy %q window must be positive, got %v", p.Name, p.Window))
	}
	if p.MaxRequests <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ratelimit", "Validate",
			fmt.Sprintf("policy %q max_requests must be positive, got %d", p.Name, p.MaxRequests))
	}
	return nil
}

// bucketKey scopes an identity by the policy's window length so the same
// identity checked under different policies never shares a bucket.
func (p Policy) bucketKey(identity string) string {
	return fmt.Sprintf("%s:%d", identity, p.Window.Milliseconds())
}
