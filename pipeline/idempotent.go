package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/idempotency"
)

// capturedResponse is the serialized form of a successful response stored
// under an idempotency key, so a replay reconstructs status and body exactly.
type capturedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// responseError smuggles a non-success response out through the guard's
// error path so the claim is released and the response still reaches the
// client.
type responseError struct {
	resp *Response
}

func (e *responseError) Error() string {
	return "non-success response"
}

// Idempotent wraps the rest of the chain with the idempotency guard. Only
// successful (2xx) responses are recorded; client errors release the claim
// so a corrected retry can execute. Replayed responses carry
// X-Idempotent-Replay and the original execution timestamp.
func Idempotent(guard *idempotency.Guard) Step {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			op := func(opCtx context.Context) (json.RawMessage, error) {
				resp, err := next(opCtx, req)
				if err != nil {
					return nil, err
				}
				if resp.Status < 200 || resp.Status >= 300 {
					return nil, &responseError{resp: resp}
				}
				return json.Marshal(capturedResponse{Status: resp.Status, Body: resp.Body})
			}

			result, err := guard.Execute(ctx, req.IdempotencyKey(), op)
			if err != nil {
				var re *responseError
				if stderrors.As(err, &re) {
					return re.resp, nil
				}
				if stderrors.Is(err, errors.ErrClaimPending) {
					return ClientError(http.StatusConflict,
						"a request with this idempotency key is already being processed"), nil
				}
				return nil, err
			}

			var captured capturedResponse
			if err := json.Unmarshal(result.Response, &captured); err != nil {
				return nil, errors.WrapInvalid(err, "pipeline", "Idempotent", "stored response decode")
			}

			resp := &Response{Status: captured.Status, Body: captured.Body}
			if result.Replayed {
				resp.SetHeader("X-Idempotent-Replay", "true")
				resp.SetHeader("X-Idempotent-Original-Timestamp",
					result.OriginalAt.UTC().Format(time.RFC3339))
			}
			return resp, nil
		}
	}
}
