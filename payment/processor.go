package payment

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// Processor is the outbound contract to an external payment processor. The
// wire protocol is out of scope; implementations adapt a concrete provider
// SDK.
type Processor interface {
	Submit(ctx context.Context, cmd Command, idempotencyKey string) error
}

// ProcessorClient enforces the generic outbound contract: every command
// carries an idempotency key and outbound traffic is rate-bounded, so a
// retry storm on our side never hammers the provider.
type ProcessorClient struct {
	inner   Processor
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewProcessorClient wraps inner with an outbound token-bucket limit of rps
// requests per second and the given burst.
func NewProcessorClient(inner Processor, rps float64, burst int) *ProcessorClient {
	if burst < 1 {
		burst = 1
	}
	return &ProcessorClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  slog.Default().With("component", "payment.processor"),
	}
}

// Submit sends cmd to the processor, blocking for an available token. An
// empty idempotency key is rejected outright: unkeyed commands to a billing
// provider are never acceptable.
func (c *ProcessorClient) Submit(ctx context.Context, cmd Command, idempotencyKey string) error {
	if idempotencyKey == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "payment", "Submit",
			"idempotency key required for processor commands")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.WrapTransient(err, "payment", "Submit", "outbound rate wait")
	}

	if err := c.inner.Submit(ctx, cmd, idempotencyKey); err != nil {
		c.logger.Error("processor submit failed",
			"kind", cmd.CommandKind(), "key", idempotencyKey, "error", err)
		return err
	}

	return nil
}
