package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue/job"
)

// Logging logs the start and outcome of every execution.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.Int("attempt", j.Attempt),
		}
		logger.Info("job started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Error("job failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.Info("job completed", attrs...)
		return nil
	}
}
