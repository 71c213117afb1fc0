// Package klinikmat provides the resource protection layer for the
// KLINIK-MAT clinical-education platform: caching, rate limiting, and
// idempotency, composed into a request pipeline in front of the platform's
// terminal operations.
//
// # Architecture
//
// Three independent protection mechanisms share one composition surface:
//
//	┌─────────────────────────────────────┐
//	│        Request Pipeline             │  auth -> CSRF -> rate limit
//	│   (compose steps around terminal)   │  -> idempotency -> validation
//	└─────────────────────────────────────┘
//	           ↓ protects
//	┌─────────────────────────────────────┐
//	│       Terminal Operations           │  payments, refunds,
//	│     (payment service, content)      │  content rendering
//	└─────────────────────────────────────┘
//	           ↓ backed by
//	┌─────────────────────────────────────┐
//	│       Protection Stores             │  bounded local cache,
//	│   (local maps, Redis when shared)   │  Redis cache / idempotency
//	└─────────────────────────────────────┘
//
// The cache (package cache) is a generic key-value store with two backends
// behind one contract: a bounded in-process store with hybrid LFU/LRU
// eviction, and a Redis-backed distributed store with native TTLs. Backend
// selection happens once at construction.
//
// The rate limiter (package ratelimit) applies named fixed-window policies
// per client identity. It is instance-local by design: throttling tolerates
// soft degradation behind a load balancer.
//
// The idempotency guard (package idempotency) provides at-most-once side
// effects for payment operations via claim-before-execute: a key is claimed
// atomically before the operation runs, and the stored response is replayed
// verbatim on retries.
//
// # Failure Philosophy
//
// Protection mechanisms degrade before they block. A cache backend failure
// is a miss, not an error. An idempotency store failure lets the operation
// run unprotected with a warning. Only validation failures and rate-limit
// rejections refuse requests outright.
//
// The gateway binary lives in cmd/klinikmat-guard.
package klinikmat
