package pipeline

import (
	"context"
	"crypto/subtle"
	"net/http"
)

const (
	csrfHeader = "X-CSRF-Token"
	csrfCookie = "csrf_token"
)

// CSRF validates the double-submit token on mutating requests: the value of
// the X-CSRF-Token header must match the csrf_token cookie. Safe methods
// pass through untouched. Comparison is constant-time.
func CSRF() Step {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(ctx, req)
			}

			headerToken := req.Header.Get(csrfHeader)
			cookie := req.Cookie(csrfCookie)

			if headerToken == "" || cookie == nil || cookie.Value == "" {
				return ClientError(http.StatusForbidden, "missing CSRF token"), nil
			}

			if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookie.Value)) != 1 {
				return ClientError(http.StatusForbidden, "invalid CSRF token"), nil
			}

			return next(ctx, req)
		}
	}
}
