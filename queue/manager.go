package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/ext"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/notify"
)

// Manager is the queue dispatcher. It is safe for concurrent use.
type Manager struct {
	store      job.Store
	notifier   notify.Notifier
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time

	batchConcurrency int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBatchConcurrency bounds the number of parallel enqueues issued by
// EnqueueBatch. Values below 1 are ignored.
func WithBatchConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchConcurrency = n
		}
	}
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Manager) { m.extensions = r }
}

// WithClock overrides the time source. Tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithConfig applies the queue-related fields of cfg.
func WithConfig(cfg clipqueue.Config) Option {
	return func(m *Manager) {
		if cfg.BatchConcurrency > 0 {
			m.batchConcurrency = cfg.BatchConcurrency
		}
	}
}

// NewManager creates a Manager over store. A nil notifier discards
// notifications, which leaves jobs for the reconciliation path.
func NewManager(store job.Store, notifier notify.Notifier, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, clipqueue.ErrNoStore
	}
	m := &Manager{
		store:            store,
		notifier:         notifier,
		logger:           slog.Default(),
		now:              time.Now,
		batchConcurrency: clipqueue.DefaultConfig().BatchConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notify.Discard
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.extensions == nil {
		m.extensions = ext.NewRegistry(m.logger)
	}
	return m, nil
}

// Extensions returns the hook registry so callers can register more hooks.
func (m *Manager) Extensions() *ext.Registry { return m.extensions }

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

func (m *Manager) clock() time.Time { return m.now().UTC() }

// dispatch hands j to the notifier. Failures are logged: the job is already
// durable and reconciliation will send it again.
func (m *Manager) dispatch(ctx context.Context, j *job.Job) bool {
	if err := m.notifier.Notify(ctx, notify.FromJob(j, m.clock())); err != nil {
		m.logger.Warn("job notification failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// ListJobs returns jobs matching f, oldest first.
func (m *Manager) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	jobs, err := m.store.ListJobs(ctx, f)
	if err != nil {
		return nil, clipqueue.WrapStorage("list jobs", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching f.
func (m *Manager) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	n, err := m.store.CountJobs(ctx, f)
	if err != nil {
		return 0, clipqueue.WrapStorage("count jobs", err)
	}
	return n, nil
}

// ListBatch returns every job carrying batchID, including retries. An
// unknown batch yields an empty slice.
func (m *Manager) ListBatch(ctx context.Context, batchID id.BatchID) ([]*job.Job, error) {
	if batchID.IsNil() {
		return nil, clipqueue.NewValidationError("batch_id", "must not be empty")
	}
	return m.ListJobs(ctx, job.Filter{BatchID: batchID})
}

// getJob loads a job, mapping absence to (nil, nil).
func (m *Manager) getJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, clipqueue.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, clipqueue.WrapStorage("get job", err)
	}
	return j, nil
}
