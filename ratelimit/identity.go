package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// IPIdentity derives a limiter identity from the caller's network address,
// preferring the original client IP from X-Forwarded-For when the deployment
// trusts its proxy chain.
func IPIdentity(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First entry is the original client
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return "ip:" + ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return "ip:" + host
	}
	if r.RemoteAddr != "" {
		return "ip:" + r.RemoteAddr
	}
	return "ip:unknown"
}

// UserIdentity derives a limiter identity purely from the authenticated user
// id, ignoring the network address. Used for operations where per-account
// fairness matters more than per-connection fairness: an account spread
// across devices still shares one budget.
func UserIdentity(userID string) string {
	if userID == "" {
		return "user:anonymous"
	}
	return "user:" + userID
}
