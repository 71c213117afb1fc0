package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/cache"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/config"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/idempotency"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/metric"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/payment"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/pipeline"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/ratelimit"
)

// dependencies carries the wired protection-layer components into route
// assembly.
type dependencies struct {
	cfg          config.Config
	logger       *slog.Logger
	registry     *metric.MetricsRegistry
	metrics      *metric.Metrics
	contentCache cache.Cache[contentDoc]
	limiter      *ratelimit.Limiter
	guard        *idempotency.Guard
	payments     *payment.Service
	auth         pipeline.Authenticator
}

// buildRoutes assembles the gateway mux. Every route runs through the
// composed pipeline; step order is fixed per route class: recovery and
// logging outermost, then auth, CSRF, rate limiting, idempotency, body
// validation, terminal.
func buildRoutes(deps *dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	adapterCfg := pipeline.AdapterConfig{MaxBodySize: deps.cfg.Server.MaxBodyBytes}

	base := []pipeline.Step{
		pipeline.Recover(deps.logger),
		pipeline.Logging(deps.logger, deps.metrics),
	}

	writeSteps := func(policy ratelimit.Policy) []pipeline.Step {
		return append(append([]pipeline.Step{}, base...),
			pipeline.Authenticate(deps.auth),
			pipeline.CSRF(),
			pipeline.RateLimit(deps.limiter, policy, pipeline.UserIdentity()),
			pipeline.Idempotent(deps.guard),
		)
	}

	// POST /api/payments: create a subscription payment
	createChain := pipeline.Compose(append(writeSteps(ratelimit.Write),
		pipeline.ValidateBody[payment.CreatePaymentRequest]())...)(createPaymentHandler(deps.payments))
	mux.Handle("POST /api/payments", pipeline.HTTPHandler(createChain, adapterCfg))

	// POST /api/refunds: reverse a payment
	refundChain := pipeline.Compose(append(writeSteps(ratelimit.Write),
		pipeline.ValidateBody[payment.RefundRequest]())...)(refundHandler(deps.payments))
	mux.Handle("POST /api/refunds", pipeline.HTTPHandler(refundChain, adapterCfg))

	// GET /api/content/{topic}: cached clinical content, anonymous
	readChain := pipeline.Compose(append(append([]pipeline.Step{}, base...),
		pipeline.RateLimit(deps.limiter, ratelimit.Public,
			pipeline.IPIdentity(deps.cfg.Server.TrustForwarded)))...)(contentHandler(deps.contentCache))
	mux.Handle("GET /api/content/", pipeline.HTTPHandler(readChain, adapterCfg))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

func createPaymentHandler(svc *payment.Service) pipeline.Handler {
	return func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		body, ok := req.Payload.(payment.CreatePaymentRequest)
		if !ok {
			return pipeline.ClientError(http.StatusBadRequest, "missing request body"), nil
		}

		p, err := svc.CreatePayment(ctx, req.User.ID, body, req.IdempotencyKey())
		if err != nil {
			return nil, err
		}
		return pipeline.JSON(http.StatusCreated, p), nil
	}
}

func refundHandler(svc *payment.Service) pipeline.Handler {
	return func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		body, ok := req.Payload.(payment.RefundRequest)
		if !ok {
			return pipeline.ClientError(http.StatusBadRequest, "missing request body"), nil
		}

		r, err := svc.Refund(ctx, req.User.ID, body, req.IdempotencyKey())
		if err != nil {
			return nil, err
		}
		return pipeline.JSON(http.StatusCreated, r), nil
	}
}

// contentDoc is one rendered clinical-education document.
type contentDoc struct {
	Topic      string    `json:"topic"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	RenderedAt time.Time `json:"rendered_at"`
}

// contentCatalog stands in for the platform's content service. Rendering is
// the expensive operation the cache shields.
var contentCatalog = map[string]contentDoc{
	"dosage-calculations": {
		Topic: "dosage-calculations",
		Title: "Dosage Calculations",
		Body:  "Weight-based dosing, infusion rates, and unit conversion drills.",
	},
	"acid-base": {
		Topic: "acid-base",
		Title: "Acid-Base Interpretation",
		Body:  "Blood gas analysis with stepwise compensation worksheets.",
	},
	"fluid-balance": {
		Topic: "fluid-balance",
		Title: "Fluid and Electrolyte Balance",
		Body:  "Maintenance fluid math and deficit correction cases.",
	},
}

func contentHandler(store cache.Cache[contentDoc]) pipeline.Handler {
	return func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		topic := strings.TrimPrefix(req.Path, "/api/content/")
		if topic == "" || strings.Contains(topic, "/") {
			return pipeline.ClientError(http.StatusNotFound, "unknown content topic"), nil
		}

		key := cache.Key("content", map[string]string{"topic": topic})
		if doc, found := store.Get(ctx, key); found {
			return pipeline.JSON(http.StatusOK, doc), nil
		}

		doc, ok := contentCatalog[topic]
		if !ok {
			return pipeline.ClientError(http.StatusNotFound, "unknown content topic"), nil
		}
		doc.RenderedAt = time.Now().UTC()

		if err := store.SetWithTTL(ctx, key, doc, cache.ContentTTL); err != nil {
			// Fail open: serve the rendered document even if caching failed
			slog.Warn("content cache write failed", "key", key, "error", err)
		}
		return pipeline.JSON(http.StatusOK, doc), nil
	}
}

// staticAuthenticator is the development authenticator: a fixed token per
// user. Production deployments plug in the platform session service instead.
type staticAuthenticator struct {
	users map[string]*pipeline.User
}

func (a *staticAuthenticator) Authenticate(_ context.Context, token string) (*pipeline.User, error) {
	user, ok := a.users[token]
	if !ok {
		return nil, nil
	}
	return user, nil
}
