package pipeline

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/ratelimit"
)

// IdentityFunc derives the rate-limit identity for a request.
type IdentityFunc func(req *Request) string

// IPIdentity keys the limiter by the caller's network address.
func IPIdentity(trustForwarded bool) IdentityFunc {
	return func(req *Request) string {
		r := &http.Request{Header: req.Header, RemoteAddr: req.RemoteAddr}
		return ratelimit.IPIdentity(r, trustForwarded)
	}
}

// UserIdentity keys the limiter by the authenticated user, for routes where
// per-account fairness matters more than per-connection fairness. Requires
// the authentication step to run first.
func UserIdentity() IdentityFunc {
	return func(req *Request) string {
		if req.User == nil {
			return ratelimit.UserIdentity("")
		}
		return ratelimit.UserIdentity(req.User.ID)
	}
}

// RateLimit throttles requests under the given policy. Every response that
// passes through carries X-RateLimit-Remaining and X-RateLimit-Reset (epoch
// milliseconds); rejections get 429 with Retry-After in seconds and a
// machine-readable {error, retryAfter} body.
func RateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy, identity IdentityFunc) Step {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			id := identity(req)
			req.Identity = id

			decision := limiter.Check(id, policy)

			if !decision.OK {
				retryAfter := int(time.Until(decision.ResetAt).Seconds() + 0.999)
				if retryAfter < 1 {
					retryAfter = 1
				}
				resp := JSON(http.StatusTooManyRequests, map[string]any{
					"error":      "rate limit exceeded",
					"retryAfter": retryAfter,
				})
				setRateLimitHeaders(resp, decision)
				resp.SetHeader("Retry-After", strconv.Itoa(retryAfter))
				return resp, nil
			}

			resp, err := next(ctx, req)
			if resp != nil {
				setRateLimitHeaders(resp, decision)
			}
			return resp, err
		}
	}
}

func setRateLimitHeaders(resp *Response, decision ratelimit.Decision) {
	resp.SetHeader("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	resp.SetHeader("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.UnixMilli(), 10))
}
