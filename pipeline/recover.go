package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
)

// Recover converts panics from any inner step or the terminal handler into a
// generic server error at the composer boundary, never leaking internal
// state to the client. It belongs outermost in every composition.
func Recover(logger *slog.Logger) Step {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (resp *Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					logger.Error("panic in request pipeline",
						"request_id", req.ID,
						"method", req.Method,
						"path", req.Path,
						"panic", r,
						"stack", string(buf[:n]))
					resp = ClientError(http.StatusInternalServerError, "internal server error")
					err = nil
				}
			}()

			return next(ctx, req)
		}
	}
}
