package pipeline

import (
	"context"
	"net/http"
	"strings"
)

// Authenticator resolves a bearer token to a user. Implementations live in
// the surrounding application; session lookup is not the protection layer's
// concern.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*User, error)
}

// Authenticate attaches the authenticated user to the request, rejecting
// requests without a valid bearer token.
func Authenticate(auth Authenticator) Step {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			token := bearerToken(req.Header)
			if token == "" {
				return ClientError(http.StatusUnauthorized, "authentication required"), nil
			}

			user, err := auth.Authenticate(ctx, token)
			if err != nil || user == nil {
				return ClientError(http.StatusUnauthorized, "invalid credentials"), nil
			}

			req.User = user
			return next(ctx, req)
		}
	}
}

func bearerToken(header http.Header) string {
	value := header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(value, prefix) {
		return ""
	}
	return strings.TrimSpace(value[len(prefix):])
}
