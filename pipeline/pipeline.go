// Package pipeline composes the protection layer's cross-cutting steps
// around terminal business operations.
//
// A pipeline is built with Compose(step1, ..., stepN)(terminal): step1 is
// outermost and runs first, able to short-circuit before any later step. The
// canonical ordering for a mutating endpoint is authentication -> CSRF
// validation -> rate limiting -> idempotency guard -> body validation ->
// logging -> terminal handler.
//
// Each step either attaches data to the shared per-request context object
// and calls through, or returns an error response immediately. No step may
// mutate context written by a later step.
package pipeline

import "context"

// Handler processes one request to completion, returning either a response
// or an error to be translated at the composer boundary.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Step wraps a handler with one cross-cutting concern.
type Step func(next Handler) Handler

// Compose builds a chain of steps around a terminal handler. Steps apply in
// the given order, the first being outermost.
func Compose(steps ...Step) func(Handler) Handler {
	return func(terminal Handler) Handler {
		h := terminal
		for i := len(steps) - 1; i >= 0; i-- {
			h = steps[i](h)
		}
		return h
	}
}
