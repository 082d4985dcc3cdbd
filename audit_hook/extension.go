package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue/ext"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.JobEnqueued   = (*Extension)(nil)
	_ ext.JobStarted    = (*Extension)(nil)
	_ ext.JobCompleted  = (*Extension)(nil)
	_ ext.JobFailed     = (*Extension)(nil)
	_ ext.JobCancelled  = (*Extension)(nil)
	_ ext.JobRetried    = (*Extension)(nil)
	_ ext.BatchEnqueued = (*Extension)(nil)
	_ ext.CronFired     = (*Extension)(nil)
)

// Record is one audit entry.
type Record struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Recorder persists audit records.
type Recorder interface {
	Record(ctx context.Context, r *Record) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, r *Record) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, r *Record) error { return f(ctx, r) }

// LogRecorder writes each record as one structured log line at a level
// derived from its severity.
func LogRecorder(l *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, r *Record) error {
		level := slog.LevelInfo
		switch r.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", r.Action),
			slog.String("resource", r.Resource),
			slog.String("resource_id", r.ResourceID),
			slog.String("outcome", r.Outcome),
		}
		if r.OwnerID != "" {
			attrs = append(attrs, slog.String("owner_id", r.OwnerID))
		}
		if r.Reason != "" {
			attrs = append(attrs, slog.String("reason", r.Reason))
		}
		for k, v := range r.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		l.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Extension records lifecycle hooks through a Recorder. Recorder errors
// are logged and never fail the operation that fired the hook.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil records everything
	logger   *slog.Logger
}

// New creates an Extension recording through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{recorder: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job hooks ───────────────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	e.record(ctx, jobRecord(j, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, "",
		"priority", j.Priority,
		"tier", j.Tier,
		"batch_id", j.BatchID.String(),
	))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	e.record(ctx, jobRecord(j, ActionJobStarted, SeverityInfo, OutcomeSuccess, "",
		"attempt", j.Attempt,
	))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	e.record(ctx, jobRecord(j, ActionJobCompleted, SeverityInfo, OutcomeSuccess, "",
		"elapsed_ms", elapsed.Milliseconds(),
	))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, reason string) error {
	e.record(ctx, jobRecord(j, ActionJobFailed, SeverityCritical, OutcomeFailure, reason,
		"attempt", j.Attempt,
	))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	e.record(ctx, jobRecord(j, ActionJobCancelled, SeverityWarning, OutcomeSuccess, j.Error))
	return nil
}

// OnJobRetried implements ext.JobRetried.
func (e *Extension) OnJobRetried(ctx context.Context, source, retry *job.Job) error {
	e.record(ctx, jobRecord(source, ActionJobRetried, SeverityWarning, OutcomeSuccess, source.Error,
		"retry_id", retry.ID.String(),
		"attempt", retry.Attempt,
	))
	return nil
}

// ── Batch and cron hooks ────────────────────────────

// OnBatchEnqueued implements ext.BatchEnqueued.
func (e *Extension) OnBatchEnqueued(ctx context.Context, batchID id.BatchID, jobIDs []id.JobID) error {
	e.record(ctx, &Record{
		Action:     ActionBatchEnqueued,
		Resource:   ResourceBatch,
		ResourceID: batchID.String(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata:   map[string]any{"jobs": len(jobIDs)},
	})
	return nil
}

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, name string, err error) error {
	r := &Record{
		Action:     ActionCronFired,
		Resource:   ResourceCron,
		ResourceID: name,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	}
	if err != nil {
		r.Outcome = OutcomeFailure
		r.Severity = SeverityWarning
		r.Reason = err.Error()
	}
	e.record(ctx, r)
	return nil
}

// ── Internal helpers ────────────────────────────────

func jobRecord(j *job.Job, action, severity, outcome, reason string, kv ...any) *Record {
	meta := map[string]any{"job_type": string(j.Type)}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if s, ok := kv[i+1].(string); ok && s == "" {
			continue
		}
		meta[key] = kv[i+1]
	}
	return &Record{
		Action:     action,
		Resource:   ResourceJob,
		ResourceID: j.ID.String(),
		OwnerID:    j.OwnerID,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		Metadata:   meta,
	}
}

func (e *Extension) record(ctx context.Context, r *Record) {
	if e.enabled != nil && !e.enabled[r.Action] {
		return
	}
	if err := e.recorder.Record(ctx, r); err != nil {
		e.logger.Warn("audit record failed",
			slog.String("action", r.Action),
			slog.String("resource_id", r.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}
