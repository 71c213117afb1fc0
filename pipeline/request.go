package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// User is the authenticated principal attached by the authentication step.
type User struct {
	ID    string
	Email string
	Roles []string
}

// Request is the shared per-request context object steps read from and
// attach to. Earlier steps write, later steps read; a step must never
// overwrite a field attached by a later step.
type Request struct {
	// Populated by the HTTP adapter
	ID         string
	Method     string
	Path       string
	Header     http.Header
	Cookies    []*http.Cookie
	RemoteAddr string
	Body       []byte
	ReceivedAt time.Time

	// Identity is the rate-limit identity, attached by the rate-limit step.
	Identity string

	// User is attached by the authentication step; nil for anonymous
	// routes.
	User *User

	// Payload is the validated, typed request body attached by the body
	// validation step.
	Payload any
}

// Cookie returns the named cookie or nil.
func (r *Request) Cookie(name string) *http.Cookie {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// IdempotencyKey returns the client-supplied key header, empty if absent.
func (r *Request) IdempotencyKey() string {
	return r.Header.Get("Idempotency-Key")
}

// Response is a handler's result before translation to the wire.
type Response struct {
	Status int
	Header http.Header
	Body   json.RawMessage
}

// SetHeader sets a response header, allocating the map on first use.
func (r *Response) SetHeader(key, value string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(key, value)
}

// JSON builds a response with a JSON-encoded body.
func JSON(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		// Marshal failures of our own response types are programming
		// errors; degrade to a bare object rather than panic mid-request
		body = []byte(`{}`)
	}
	return &Response{Status: status, Body: body}
}

// ClientError builds the standard error body {error, status}.
func ClientError(status int, message string) *Response {
	return JSON(status, map[string]any{
		"error":  message,
		"status": status,
	})
}

// requestID extracts the X-Request-ID header or generates a new id for
// tracing, 16 hex characters from crypto/rand.
func requestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if random generation fails
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
