package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
)

// ErrTimeout reports that a handler outlived its job type's timeout.
var ErrTimeout = errors.New("job timed out")

// Timeout bounds each execution by the timeout policy assigns to the job's
// type.
func Timeout(logger *slog.Logger) Middleware {
	return TimeoutFunc(logger, func(t job.Type) time.Duration {
		return policy.LimitsFor(t).Timeout
	})
}

// TimeoutFunc bounds each execution by limit(j.Type). A zero limit leaves
// the job unbounded. A handler that fails after the deadline fires yields
// an error matching ErrTimeout.
func TimeoutFunc(logger *slog.Logger, limit func(job.Type) time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := limit(j.Type)
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("job exceeded timeout",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", string(j.Type)),
				slog.Duration("timeout", d),
			)
			return fmt.Errorf("%w after %s: %w", ErrTimeout, d, err)
		}
		return err
	}
}
