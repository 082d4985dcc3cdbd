package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// entry pairs a hook with the extension name captured at registration, so
// emitters never type-assert back to Extension.
type entry[H any] struct {
	name string
	hook H
}

// cache appends e to list when it implements H.
func cache[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name, h})
	}
	return list
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Register every extension before the first emit; the registry is
// not safe for concurrent registration.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued   []entry[JobEnqueued]
	jobStarted    []entry[JobStarted]
	jobCompleted  []entry[JobCompleted]
	jobFailed     []entry[JobFailed]
	jobCancelled  []entry[JobCancelled]
	jobRetried    []entry[JobRetried]
	batchEnqueued []entry[BatchEnqueued]
	cronFired     []entry[CronFired]
	shutdown      []entry[Shutdown]
}

// NewRegistry creates an extension registry. A nil logger uses
// slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension to every hook list it implements. Extensions
// are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.jobEnqueued = cache(r.jobEnqueued, name, e)
	r.jobStarted = cache(r.jobStarted, name, e)
	r.jobCompleted = cache(r.jobCompleted, name, e)
	r.jobFailed = cache(r.jobFailed, name, e)
	r.jobCancelled = cache(r.jobCancelled, name, e)
	r.jobRetried = cache(r.jobRetried, name, e)
	r.batchEnqueued = cache(r.batchEnqueued, name, e)
	r.cronFired = cache(r.cronFired, name, e)
	r.shutdown = cache(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies extensions implementing JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		r.check("OnJobEnqueued", e.name, e.hook.OnJobEnqueued(ctx, j))
	}
}

// EmitJobStarted notifies extensions implementing JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobCompleted notifies extensions implementing JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobFailed notifies extensions implementing JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, reason string) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, reason))
	}
}

// EmitJobCancelled notifies extensions implementing JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		r.check("OnJobCancelled", e.name, e.hook.OnJobCancelled(ctx, j))
	}
}

// EmitJobRetried notifies extensions implementing JobRetried.
func (r *Registry) EmitJobRetried(ctx context.Context, source, retry *job.Job) {
	for _, e := range r.jobRetried {
		r.check("OnJobRetried", e.name, e.hook.OnJobRetried(ctx, source, retry))
	}
}

// EmitBatchEnqueued notifies extensions implementing BatchEnqueued.
func (r *Registry) EmitBatchEnqueued(ctx context.Context, batchID id.BatchID, jobIDs []id.JobID) {
	for _, e := range r.batchEnqueued {
		r.check("OnBatchEnqueued", e.name, e.hook.OnBatchEnqueued(ctx, batchID, jobIDs))
	}
}

// EmitCronFired notifies extensions implementing CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, name string, err error) {
	for _, e := range r.cronFired {
		r.check("OnCronFired", e.name, e.hook.OnCronFired(ctx, name, err))
	}
}

// EmitShutdown notifies extensions implementing Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook error. Hook errors never propagate into the queue.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
