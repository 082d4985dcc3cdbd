package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/getshortzy/clipqueue/ext"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobEnqueued   = (*MetricsExtension)(nil)
	_ ext.JobStarted    = (*MetricsExtension)(nil)
	_ ext.JobCompleted  = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.JobCancelled  = (*MetricsExtension)(nil)
	_ ext.JobRetried    = (*MetricsExtension)(nil)
	_ ext.BatchEnqueued = (*MetricsExtension)(nil)
)

const meterName = "github.com/getshortzy/clipqueue/observability"

// MetricsExtension counts lifecycle events per job type.
//
// Instruments:
//   - clipqueue.job.enqueued, .started, .completed, .failed, .cancelled,
//     .retried (Int64Counter, attribute job_type)
//   - clipqueue.batch.enqueued (Int64Counter)
//   - clipqueue.batch.jobs (Int64Histogram, jobs per batch)
//   - clipqueue.job.duration (Float64Histogram, seconds, attribute job_type)
//
// The exported go-utils counters keep process lifetime totals that Totals
// reports without an OTel reader.
type MetricsExtension struct {
	JobEnqueued   gu.Counter
	JobStarted    gu.Counter
	JobCompleted  gu.Counter
	JobFailed     gu.Counter
	JobCancelled  gu.Counter
	JobRetried    gu.Counter
	BatchEnqueued gu.Counter

	enqueued  metric.Int64Counter
	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	cancelled metric.Int64Counter
	retried   metric.Int64Counter
	batches   metric.Int64Counter
	batchSize metric.Int64Histogram
	duration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter with a
// default go-utils collector.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return NewMetricsExtensionWithFactory(meter, gu.NewMetricsCollector("clipqueue/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension on meter whose
// totals come from factory. Tests pass gu.NewMetricsCollector.
func NewMetricsExtensionWithFactory(meter metric.Meter, factory gu.MetricFactory) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	batchSize, _ := meter.Int64Histogram("clipqueue.batch.jobs",
		metric.WithDescription("Jobs created per batch submission"),
		metric.WithUnit("{job}"),
	)
	duration, _ := meter.Float64Histogram("clipqueue.job.duration",
		metric.WithDescription("Executor-reported time from start to completion"),
		metric.WithUnit("s"),
	)
	batches, _ := meter.Int64Counter("clipqueue.batch.enqueued",
		metric.WithDescription("Batch submissions"),
		metric.WithUnit("{batch}"),
	)

	return &MetricsExtension{
		JobEnqueued:   factory.Counter("clipqueue.job.enqueued"),
		JobStarted:    factory.Counter("clipqueue.job.started"),
		JobCompleted:  factory.Counter("clipqueue.job.completed"),
		JobFailed:     factory.Counter("clipqueue.job.failed"),
		JobCancelled:  factory.Counter("clipqueue.job.cancelled"),
		JobRetried:    factory.Counter("clipqueue.job.retried"),
		BatchEnqueued: factory.Counter("clipqueue.batch.enqueued"),

		enqueued:  counter("clipqueue.job.enqueued", "Jobs persisted as pending"),
		started:   counter("clipqueue.job.started", "Jobs reported running"),
		completed: counter("clipqueue.job.completed", "Jobs reported completed"),
		failed:    counter("clipqueue.job.failed", "Jobs reported failed"),
		cancelled: counter("clipqueue.job.cancelled", "Pending jobs cancelled"),
		retried:   counter("clipqueue.job.retried", "Failed jobs re-enqueued"),
		batches:   batches,
		batchSize: batchSize,
		duration:  duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// Totals returns the lifetime counters keyed by event name.
func (m *MetricsExtension) Totals() map[string]float64 {
	return map[string]float64{
		"job_enqueued":   float64(m.JobEnqueued.Value()),
		"job_started":    float64(m.JobStarted.Value()),
		"job_completed":  float64(m.JobCompleted.Value()),
		"job_failed":     float64(m.JobFailed.Value()),
		"job_cancelled":  float64(m.JobCancelled.Value()),
		"job_retried":    float64(m.JobRetried.Value()),
		"batch_enqueued": float64(m.BatchEnqueued.Value()),
	}
}

func typeAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_type", string(j.Type)))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Inc()
	m.enqueued.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobStarted.Inc()
	m.started.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Inc()
	m.completed.Add(ctx, 1, typeAttr(j))
	m.duration.Record(ctx, elapsed.Seconds(), typeAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ string) error {
	m.JobFailed.Inc()
	m.failed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Inc()
	m.cancelled.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobRetried implements ext.JobRetried.
func (m *MetricsExtension) OnJobRetried(ctx context.Context, _ *job.Job, retry *job.Job) error {
	m.JobRetried.Inc()
	m.retried.Add(ctx, 1, typeAttr(retry))
	return nil
}

// OnBatchEnqueued implements ext.BatchEnqueued.
func (m *MetricsExtension) OnBatchEnqueued(ctx context.Context, _ id.BatchID, jobIDs []id.JobID) error {
	m.BatchEnqueued.Inc()
	m.batches.Add(ctx, 1)
	m.batchSize.Record(ctx, int64(len(jobIDs)))
	return nil
}
