package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/getshortzy/clipqueue/job"
)

// Metrics records execution metrics on the global MeterProvider.
//
// Instruments:
//   - clipqueue.job.execution.duration (Float64Histogram, seconds)
//   - clipqueue.job.executions (Int64Counter)
//
// Both carry job_type and status ("ok" or "error") attributes.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records execution metrics on meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"clipqueue.job.execution.duration",
		metric.WithDescription("Duration of in-process job execution"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"clipqueue.job.executions",
		metric.WithDescription("Total number of in-process job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_type", string(j.Type)),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
