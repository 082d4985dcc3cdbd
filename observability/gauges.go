package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/getshortzy/clipqueue/job"
)

// JobCounter counts stored jobs. queue.Manager and every store satisfy it.
type JobCounter interface {
	CountJobs(ctx context.Context, f job.Filter) (int64, error)
}

// RegisterQueueGauges registers clipqueue.queue.size, an observable gauge
// reporting the number of pending and running jobs (attribute status) at
// every collection. Unregister the returned registration on shutdown.
func RegisterQueueGauges(meter metric.Meter, c JobCounter) (metric.Registration, error) {
	size, err := meter.Int64ObservableGauge("clipqueue.queue.size",
		metric.WithDescription("Jobs waiting for or held by an executor"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}
	states := []job.State{job.StatePending, job.StateRunning}
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, s := range states {
			n, err := c.CountJobs(ctx, job.Filter{States: []job.State{s}})
			if err != nil {
				return err
			}
			o.ObserveInt64(size, n, metric.WithAttributes(attribute.String("status", string(s))))
		}
		return nil
	}, size)
}
