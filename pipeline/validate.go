package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator is implemented by request body types that can validate
// themselves at the boundary, before the terminal operation runs.
type Validator interface {
	Validate() []FieldError
}

// ValidateBody decodes the request body into T, validates it, and attaches
// the typed value as the request payload. Malformed or invalid bodies get a
// 400 with field-level detail and never reach the terminal operation.
func ValidateBody[T Validator]() Step {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			var payload T
			if err := json.Unmarshal(req.Body, &payload); err != nil {
				return ClientError(http.StatusBadRequest, "malformed request body"), nil
			}

			if fieldErrors := payload.Validate(); len(fieldErrors) > 0 {
				return JSON(http.StatusBadRequest, map[string]any{
					"error":  "validation failed",
					"fields": fieldErrors,
				}), nil
			}

			req.Payload = payload
			return next(ctx, req)
		}
	}
}
