package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/idempotency"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/ratelimit"
)

func newRequest(method string) *Request {
	return &Request{
		ID:         "test-req",
		Method:     method,
		Path:       "/api/test",
		Header:     http.Header{},
		RemoteAddr: "192.0.2.10:50000",
	}
}

// --- authentication ---

type tokenAuth map[string]*User

func (a tokenAuth) Authenticate(_ context.Context, token string) (*User, error) {
	return a[token], nil
}

func TestAuthenticateAttachesUser(t *testing.T) {
	auth := tokenAuth{"good-token": {ID: "u-1", Email: "s@example.com"}}

	var seen *User
	chain := Authenticate(auth)(func(_ context.Context, req *Request) (*Response, error) {
		seen = req.User
		return JSON(http.StatusOK, nil), nil
	})

	req := newRequest(http.MethodPost)
	req.Header.Set("Authorization", "Bearer good-token")

	resp, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	require.NotNil(t, seen)
	assert.Equal(t, "u-1", seen.ID)
}

func TestAuthenticateRejects(t *testing.T) {
	auth := tokenAuth{"good-token": {ID: "u-1"}}
	chain := Authenticate(auth)(okHandler("never"))

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcg=="},
		{"unknown token", "Bearer bad-token"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := newRequest(http.MethodPost)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := chain(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, resp.Status)
		})
	}
}

// --- CSRF ---

func TestCSRFSafeMethodsPass(t *testing.T) {
	chain := CSRF()(okHandler("ok"))

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		resp, err := chain(context.Background(), newRequest(method))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status, method)
	}
}

func TestCSRFValidatesDoubleSubmit(t *testing.T) {
	chain := CSRF()(okHandler("ok"))

	// Matching header and cookie
	req := newRequest(http.MethodPost)
	req.Header.Set("X-CSRF-Token", "tok-1")
	req.Cookies = []*http.Cookie{{Name: "csrf_token", Value: "tok-1"}}
	resp, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	// Mismatch
	req = newRequest(http.MethodPost)
	req.Header.Set("X-CSRF-Token", "tok-1")
	req.Cookies = []*http.Cookie{{Name: "csrf_token", Value: "other"}}
	resp, err = chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	// Missing token entirely
	resp, err = chain(context.Background(), newRequest(http.MethodPost))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Status)
}

// --- rate limiting ---

func TestRateLimitHeadersAndRejection(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(context.Background(), ratelimit.WithSweepInterval(time.Hour))
	require.NoError(t, err)
	defer func() { _ = limiter.Close() }()

	policy := ratelimit.Policy{Name: "test", Window: time.Minute, MaxRequests: 2}
	chain := RateLimit(limiter, policy, IPIdentity(false))(okHandler("ok"))

	// First two requests pass with decreasing budget
	for i, wantRemaining := range []string{"1", "0"} {
		resp, err := chain(context.Background(), newRequest(http.MethodGet))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status, "request %d", i+1)
		assert.Equal(t, wantRemaining, resp.Header.Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
	}

	// Third is rejected with Retry-After and the machine-readable body
	resp, err := chain(context.Background(), newRequest(http.MethodGet))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, "rate limit exceeded", body.Error)
	assert.GreaterOrEqual(t, body.RetryAfter, 1)
}

func TestRateLimitAttachesIdentity(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(context.Background(), ratelimit.WithSweepInterval(time.Hour))
	require.NoError(t, err)
	defer func() { _ = limiter.Close() }()

	policy := ratelimit.Policy{Name: "test", Window: time.Minute, MaxRequests: 10}

	var identity string
	chain := RateLimit(limiter, policy, IPIdentity(false))(func(_ context.Context, req *Request) (*Response, error) {
		identity = req.Identity
		return JSON(http.StatusOK, nil), nil
	})

	_, err = chain(context.Background(), newRequest(http.MethodGet))
	require.NoError(t, err)
	assert.Equal(t, "ip:192.0.2.10", identity)
}

// --- idempotency ---

func TestIdempotentStepReplaysWithHeaders(t *testing.T) {
	store := idempotency.NewMemoryStore(context.Background())
	defer func() { _ = store.Close() }()
	guard := idempotency.NewGuard(store)

	executions := 0
	chain := Idempotent(guard)(func(context.Context, *Request) (*Response, error) {
		executions++
		return JSON(http.StatusCreated, map[string]string{"payment_id": "p-1"}), nil
	})

	req := newRequest(http.MethodPost)
	req.Header.Set("Idempotency-Key", "client-key")

	first, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, first.Status)
	assert.Empty(t, first.Header.Get("X-Idempotent-Replay"))

	second, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, second.Status)
	assert.Equal(t, "true", second.Header.Get("X-Idempotent-Replay"))

	ts := second.Header.Get("X-Idempotent-Original-Timestamp")
	_, parseErr := time.Parse(time.RFC3339, ts)
	assert.NoError(t, parseErr, "timestamp header must be RFC3339, got %q", ts)

	assert.Equal(t, 1, executions)
	assert.JSONEq(t, string(first.Body), string(second.Body))
}

func TestIdempotentStepReleasesOnClientError(t *testing.T) {
	store := idempotency.NewMemoryStore(context.Background())
	defer func() { _ = store.Close() }()
	guard := idempotency.NewGuard(store)

	calls := 0
	chain := Idempotent(guard)(func(context.Context, *Request) (*Response, error) {
		calls++
		if calls == 1 {
			return ClientError(http.StatusBadRequest, "bad amount"), nil
		}
		return JSON(http.StatusCreated, map[string]string{"payment_id": "p-2"}), nil
	})

	req := newRequest(http.MethodPost)
	req.Header.Set("Idempotency-Key", "retry-key")

	// The 400 passes through unrecorded
	resp, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	// The corrected retry executes fresh
	resp, err = chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Empty(t, resp.Header.Get("X-Idempotent-Replay"))
	assert.Equal(t, 2, calls)
}

func TestIdempotentStepPendingConflict(t *testing.T) {
	store := idempotency.NewMemoryStore(context.Background())
	defer func() { _ = store.Close() }()
	guard := idempotency.NewGuard(store, idempotency.WithPendingWait(50*time.Millisecond, 10*time.Millisecond))

	// Hold the claim so the step's own attempt observes pending
	ctx := context.Background()
	claim, err := store.Claim(ctx, "held-key", time.Hour)
	require.NoError(t, err)
	require.Equal(t, idempotency.ClaimGranted, claim.Outcome)

	chain := Idempotent(guard)(okHandler("never"))

	req := newRequest(http.MethodPost)
	req.Header.Set("Idempotency-Key", "held-key")

	resp, err := chain(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
}

func TestIdempotentStepWithoutKey(t *testing.T) {
	store := idempotency.NewMemoryStore(context.Background())
	defer func() { _ = store.Close() }()
	guard := idempotency.NewGuard(store)

	executions := 0
	chain := Idempotent(guard)(func(context.Context, *Request) (*Response, error) {
		executions++
		return JSON(http.StatusCreated, nil), nil
	})

	for i := 0; i < 2; i++ {
		resp, err := chain(context.Background(), newRequest(http.MethodPost))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.Status)
	}
	assert.Equal(t, 2, executions, "keyless requests are never deduplicated")
}

// --- body validation ---

type testBody struct {
	Amount int64  `json:"amount"`
	Name   string `json:"name"`
}

func (b testBody) Validate() []FieldError {
	var errs []FieldError
	if b.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be positive"})
	}
	if b.Name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "required"})
	}
	return errs
}

func TestValidateBodyAttachesPayload(t *testing.T) {
	var payload any
	chain := ValidateBody[testBody]()(func(_ context.Context, req *Request) (*Response, error) {
		payload = req.Payload
		return JSON(http.StatusOK, nil), nil
	})

	req := newRequest(http.MethodPost)
	req.Body = []byte(`{"amount": 100, "name": "plan-a"}`)

	resp, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	typed, ok := payload.(testBody)
	require.True(t, ok)
	assert.Equal(t, int64(100), typed.Amount)
}

func TestValidateBodyRejectsMalformed(t *testing.T) {
	chain := ValidateBody[testBody]()(okHandler("never"))

	req := newRequest(http.MethodPost)
	req.Body = []byte(`{not json`)

	resp, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestValidateBodyReportsFieldErrors(t *testing.T) {
	chain := ValidateBody[testBody]()(okHandler("never"))

	req := newRequest(http.MethodPost)
	req.Body = []byte(`{"amount": -5}`)

	resp, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	var body struct {
		Error  string       `json:"error"`
		Fields []FieldError `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Len(t, body.Fields, 2)
}

// --- panic recovery ---

func TestRecoverConvertsPanic(t *testing.T) {
	chain := Recover(nil)(func(context.Context, *Request) (*Response, error) {
		panic(fmt.Errorf("boom"))
	})

	resp, err := chain(context.Background(), newRequest(http.MethodGet))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}
