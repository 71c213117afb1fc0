package pipeline

import (
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// AdapterConfig bounds the HTTP adapter.
type AdapterConfig struct {
	// MaxBodySize caps request bodies; larger requests get 413.
	MaxBodySize int64
}

// DefaultAdapterConfig returns the adapter defaults.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{MaxBodySize: 1 << 20} // 1 MiB
}

// HTTPHandler adapts a composed pipeline handler to net/http. It builds the
// shared Request object, runs the pipeline, and translates the outcome
// (errors included) to the wire. Unexpected errors are sanitized so internal
// state never leaks to clients.
func HTTPHandler(handler Handler, cfg AdapterConfig) http.HandlerFunc {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultAdapterConfig().MaxBodySize
	}

	return func(w http.ResponseWriter, r *http.Request) {
		reqID := requestID(r)
		w.Header().Set("X-Request-ID", reqID)

		defer r.Body.Close()

		// Read one byte over the limit to detect oversized bodies
		bodyReader := io.LimitReader(r.Body, cfg.MaxBodySize+1)
		body, err := io.ReadAll(bodyReader)
		if err != nil {
			writeResponse(w, ClientError(http.StatusBadRequest, "failed to read request body"))
			return
		}
		if int64(len(body)) > cfg.MaxBodySize {
			tooLarge := errors.WrapInvalid(errors.ErrBodyTooLarge, "pipeline", "HTTPHandler", "read body")
			writeResponse(w, ClientError(statusForError(tooLarge), sanitizeError(tooLarge)))
			return
		}

		req := &Request{
			ID:         reqID,
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     r.Header,
			Cookies:    r.Cookies(),
			RemoteAddr: r.RemoteAddr,
			Body:       body,
			ReceivedAt: time.Now(),
		}

		resp, err := handler(r.Context(), req)
		if err != nil {
			status := statusForError(err)
			slog.Error("request failed",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"error", err)
			writeResponse(w, ClientError(status, sanitizeError(err)))
			return
		}

		writeResponse(w, resp)
	}
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	// A (nil, nil) handler result is a programming error; answer with a
	// generic 500 rather than panic
	if resp == nil {
		resp = ClientError(http.StatusInternalServerError, "internal server error")
	}

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// statusForError maps classified errors to HTTP status codes.
func statusForError(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	switch {
	case stderrors.Is(err, errors.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case errors.IsFatal(err):
		return http.StatusInternalServerError
	}

	return http.StatusInternalServerError
}

// sanitizeError returns a safe message for external clients. Internal
// details stay in the logs.
func sanitizeError(err error) string {
	if err == nil {
		return "internal server error"
	}

	switch {
	case stderrors.Is(err, errors.ErrBodyTooLarge):
		return "request body exceeds maximum size"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	}

	return "internal server error"
}
