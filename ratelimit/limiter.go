// Package ratelimit implements fixed-window request throttling keyed by
// client identity, with multiple named policies per route class.
//
// Fixed-window counting resets at fixed wall-clock intervals, which permits
// up to 2x the policy maximum in a worst-case burst straddling a window
// boundary. That is a known, accepted trade-off for simplicity, not a
// defect; a sliding window would cost more state per identity.
//
// The limiter is instance-local and not authoritative: behind a load
// balancer, each instance throttles independently, so a client may exceed
// the nominal global limit by a factor of the instance count. This is
// accepted soft degradation for throttling; guarantees that must hold across
// instances (at-most-once side effects) belong to the idempotency guard.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one rate-limit check. ResetAt lets the caller
// compute a Retry-After duration on rejection.
type Decision struct {
	OK        bool
	Remaining int
	ResetAt   time.Time
}

// bucket is one fixed-window counter. It is replaced, not merged, when its
// window elapses.
type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter tracks fixed-window buckets per identity+policy. Buckets are
// mutated only inside the limiter's lock; there is no cross-key locking.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	now     func() time.Time // overridable in tests
	metrics *limiterMetrics

	// Background sweep coordination
	shutdown chan struct{}
	done     chan struct{}
}

// NewLimiter creates a limiter and starts its scheduled bucket sweep.
// Expired buckets are removed on a fixed interval rather than sampled
// per-call, so bucket memory is bounded by design instead of probabilistically.
func NewLimiter(ctx context.Context, options ...Option) (*Limiter, error) {
	opts := applyOptions(options...)

	l := &Limiter{
		buckets:  make(map[string]*bucket),
		now:      time.Now,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if opts.metricsReg != nil {
		m, err := newLimiterMetrics(opts.metricsReg)
		if err != nil {
			return nil, err
		}
		l.metrics = m
	}

	go l.sweep(ctx, opts.sweepInterval)

	return l, nil
}

// Check applies policy to identity and reports whether this request is
// allowed. The bucket count never exceeds the policy maximum without the
// check reporting failure.
func (l *Limiter) Check(identity string, policy Policy) Decision {
	key := policy.bucketKey(identity)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists || !now.Before(b.resetAt) {
		// Fresh window: replace the bucket outright
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(policy.Window)}
		d := Decision{OK: true, Remaining: policy.MaxRequests - 1, ResetAt: now.Add(policy.Window)}
		l.record(policy, d)
		return d
	}

	if b.count < policy.MaxRequests {
		b.count++
		d := Decision{OK: true, Remaining: policy.MaxRequests - b.count, ResetAt: b.resetAt}
		l.record(policy, d)
		return d
	}

	d := Decision{OK: false, Remaining: 0, ResetAt: b.resetAt}
	l.record(policy, d)
	return d
}

// Size returns the current number of tracked buckets.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the background sweep.
func (l *Limiter) Close() error {
	select {
	case <-l.shutdown:
	default:
		close(l.shutdown)
	}

	select {
	case <-l.done:
		return nil
	case <-time.After(5 * time.Second):
		return context.DeadlineExceeded
	}
}

func (l *Limiter) record(policy Policy, d Decision) {
	if l.metrics == nil {
		return
	}
	outcome := "allowed"
	if !d.OK {
		outcome = "rejected"
	}
	l.metrics.recordDecision(policy.Name, outcome)
}

// sweep removes elapsed buckets on a fixed schedule so memory stays bounded
// even for a long tail of one-shot client identities.
func (l *Limiter) sweep(ctx context.Context, interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		case <-ticker.C:
			l.removeElapsed()
		}
	}
}

func (l *Limiter) removeElapsed() {
	now := l.now()

	l.mu.Lock()
	for key, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, key)
		}
	}
	l.mu.Unlock()
}
