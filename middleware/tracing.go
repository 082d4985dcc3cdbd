package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getshortzy/clipqueue/job"
)

// instrumentationName is the OTel scope for spans and instruments.
const instrumentationName = "github.com/getshortzy/clipqueue"

// Tracing wraps execution in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer wraps execution in a span from tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("clipqueue.job.id", j.ID.String()),
			attribute.String("clipqueue.job.type", string(j.Type)),
			attribute.Int("clipqueue.job.priority", j.Priority),
			attribute.Int("clipqueue.job.attempt", j.Attempt),
			attribute.String("clipqueue.owner_id", j.OwnerID),
		}
		if j.InBatch() {
			attrs = append(attrs, attribute.String("clipqueue.batch.id", j.BatchID.String()))
		}
		ctx, span := tracer.Start(ctx, "clipqueue.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
