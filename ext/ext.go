package ext

import (
	"context"
	"time"

	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is persisted as pending.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when the executor reports a job as running.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called when the executor reports success. elapsed is the
// time between start and completion.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when the executor reports a failure.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, reason string) error
}

// JobCancelled is called when a pending job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobRetried is called after a failed job has been re-enqueued as retry.
type JobRetried interface {
	OnJobRetried(ctx context.Context, source, retry *job.Job) error
}

// ──────────────────────────────────────────────────
// Batch and process hooks
// ──────────────────────────────────────────────────

// BatchEnqueued is called once a batch submission finishes, with the ids
// of the jobs that were created.
type BatchEnqueued interface {
	OnBatchEnqueued(ctx context.Context, batchID id.BatchID, jobIDs []id.JobID) error
}

// CronFired is called after a scheduled maintenance task runs. err is the
// task's result.
type CronFired interface {
	OnCronFired(ctx context.Context, name string, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
