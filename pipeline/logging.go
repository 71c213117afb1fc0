package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/metric"
)

// Logging records one structured line per request with route, identity,
// status, and timing, and feeds the platform request metrics when provided.
func Logging(logger *slog.Logger, metrics *metric.Metrics) Step {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()

			resp, err := next(ctx, req)

			elapsed := time.Since(start)
			status := 0
			if resp != nil {
				status = resp.Status
			}

			attrs := []any{
				"request_id", req.ID,
				"method", req.Method,
				"path", req.Path,
				"identity", req.Identity,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
			}
			if err != nil {
				logger.Error("request", append(attrs, "error", err)...)
			} else if status >= 400 {
				logger.Warn("request", attrs...)
			} else {
				logger.Info("request", attrs...)
			}

			if metrics != nil {
				metrics.ObserveRequest(req.Path, strconv.Itoa(status), elapsed)
			}

			return resp, err
		}
	}
}
