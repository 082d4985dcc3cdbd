package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
	"github.com/getshortzy/clipqueue/queue"
)

// Queue is the subset of queue.Manager the processor depends on.
type Queue interface {
	EnqueueBatch(ctx context.Context, reqs []queue.Request, opts ...queue.EnqueueOption) (queue.BatchResult, error)
	ListBatch(ctx context.Context, batchID id.BatchID) ([]*job.Job, error)
	ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error)
	CancelJobWithReason(ctx context.Context, jobID id.JobID, reason string) (bool, error)
	RetryJob(ctx context.Context, jobID id.JobID) (id.JobID, bool, error)
}

var _ Queue = (*queue.Manager)(nil)

// SourceType says where a video comes from.
type SourceType string

const (
	SourceUpload  SourceType = "upload"
	SourceYouTube SourceType = "youtube"
)

// VideoSpec describes one video of a batch.
type VideoSpec struct {
	Name       string     `json:"name"`
	SourceType SourceType `json:"source_type"`
	SourceURL  string     `json:"source_url,omitempty"`
	FileURL    string     `json:"file_url,omitempty"`
	Preset     string     `json:"preset"`
	Platform   string     `json:"platform"`
}

func (v VideoSpec) validate() error {
	if v.Name == "" {
		return clipqueue.NewValidationError("name", "must not be empty")
	}
	switch v.SourceType {
	case SourceUpload:
		if v.FileURL == "" {
			return clipqueue.NewValidationError("file_url", "required for uploads")
		}
	case SourceYouTube:
		if v.SourceURL == "" {
			return clipqueue.NewValidationError("source_url", "required for youtube sources")
		}
	default:
		return clipqueue.NewValidationError("source_type", fmt.Sprintf("unknown source %q", v.SourceType))
	}
	return nil
}

// ProjectCreator creates the work unit (a project) a batch job drives. It
// returns the new project's id.
type ProjectCreator interface {
	CreateProject(ctx context.Context, ownerID string, spec VideoSpec) (string, error)
}

// ProjectCreatorFunc adapts a function to ProjectCreator.
type ProjectCreatorFunc func(ctx context.Context, ownerID string, spec VideoSpec) (string, error)

// CreateProject calls f.
func (f ProjectCreatorFunc) CreateProject(ctx context.Context, ownerID string, spec VideoSpec) (string, error) {
	return f(ctx, ownerID, spec)
}

// Deferrer runs fn once at the given time.
type Deferrer interface {
	At(at time.Time, fn func(ctx context.Context)) error
}

// Options tune a batch submission.
type Options struct {
	// Tier is the owner's subscription tier. Empty means free.
	Tier string
	// Priority overrides the computed priority when non-nil.
	Priority *int
}

func (o Options) enqueueOptions() []queue.EnqueueOption {
	opts := []queue.EnqueueOption{queue.WithTier(o.Tier)}
	if o.Priority != nil {
		opts = append(opts, queue.WithPriority(*o.Priority))
	}
	return opts
}

// Processor runs batch operations on top of a Queue.
type Processor struct {
	queue    Queue
	projects ProjectCreator
	deferrer Deferrer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithDeferrer enables Schedule.
func WithDeferrer(d Deferrer) Option {
	return func(p *Processor) { p.deferrer = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor.
func NewProcessor(q Queue, projects ProjectCreator, opts ...Option) *Processor {
	p := &Processor{
		queue:    q,
		projects: projects,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ErrNoDeferrer is returned by Schedule when no Deferrer is configured.
var ErrNoDeferrer = errors.New("clipqueue: batch scheduling not configured")

// ProcessVideoBatch creates one project per video and enqueues one
// batch_process job per project under a shared batch id. A project
// creation failure aborts before anything is enqueued; projects already
// created are left to the collaborator.
func (p *Processor) ProcessVideoBatch(ctx context.Context, ownerID string, videos []VideoSpec, o Options) (id.BatchID, error) {
	return p.process(ctx, ownerID, videos, o, id.Nil)
}

func (p *Processor) process(ctx context.Context, ownerID string, videos []VideoSpec, o Options, batchID id.BatchID) (id.BatchID, error) {
	if err := validate(ownerID, videos); err != nil {
		return id.Nil, err
	}

	reqs := make([]queue.Request, 0, len(videos))
	for i, v := range videos {
		projectID, err := p.projects.CreateProject(ctx, ownerID, v)
		if err != nil {
			return id.Nil, fmt.Errorf("create project %d (%s): %w", i, v.Name, err)
		}
		reqs = append(reqs, queue.Request{
			Type:            job.TypeBatchProcess,
			OwnerID:         ownerID,
			RelatedEntityID: projectID,
			Payload: batchPayload{
				VideoSpec: v,
				Index:     i,
				TotalJobs: len(videos),
			},
		})
	}

	opts := o.enqueueOptions()
	if !batchID.IsNil() {
		opts = append(opts, queue.WithBatchID(batchID))
	}
	res, err := p.queue.EnqueueBatch(ctx, reqs, opts...)
	if res.BatchID.IsNil() {
		return id.Nil, err
	}
	p.logger.Info("video batch submitted",
		slog.String("batch_id", res.BatchID.String()),
		slog.String("owner_id", ownerID),
		slog.Int("videos", len(videos)),
		slog.Int("enqueued", len(res.JobIDs)),
	)
	return res.BatchID, err
}

// batchPayload is the executor input of a batch_process job.
type batchPayload struct {
	VideoSpec
	Index     int `json:"index"`
	TotalJobs int `json:"total_jobs"`
}

func validate(ownerID string, videos []VideoSpec) error {
	if ownerID == "" {
		return clipqueue.NewValidationError("owner_id", "must not be empty")
	}
	if len(videos) == 0 {
		return clipqueue.NewValidationError("videos", "batch must contain at least one video")
	}
	for i, v := range videos {
		if err := v.validate(); err != nil {
			return fmt.Errorf("video %d: %w", i, err)
		}
	}
	return nil
}

// GetBatchStatus derives the view of batchID. The boolean is false when
// the batch has no jobs.
func (p *Processor) GetBatchStatus(ctx context.Context, batchID id.BatchID) (View, bool, error) {
	jobs, err := p.queue.ListBatch(ctx, batchID)
	if err != nil {
		return View{}, false, err
	}
	v, ok := Summarize(batchID, jobs)
	return v, ok, nil
}

// CancelBatch cancels every pending job of batchID. It returns true when
// the batch has at least one job, whether or not any was still pending.
func (p *Processor) CancelBatch(ctx context.Context, batchID id.BatchID) (bool, error) {
	jobs, err := p.queue.ListBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}

	var (
		cancelled int
		errs      []error
	)
	for _, j := range jobs {
		if j.State != job.StatePending {
			continue
		}
		ok, err := p.queue.CancelJobWithReason(ctx, j.ID, job.BatchCancelledByUser)
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", j.ID, err))
			continue
		}
		if ok {
			cancelled++
		}
	}
	p.logger.Info("batch cancelled",
		slog.String("batch_id", batchID.String()),
		slog.Int("cancelled", cancelled),
	)
	return true, errors.Join(errs...)
}

// RetryBatch retries every failed job of batchID that has not already been
// retried and returns how many retries were created. A job that cannot be
// retried is skipped and logged.
func (p *Processor) RetryBatch(ctx context.Context, batchID id.BatchID) (int, error) {
	jobs, err := p.queue.ListBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, j := range Current(jobs) {
		if j.State != job.StateFailed {
			continue
		}
		_, ok, err := p.queue.RetryJob(ctx, j.ID)
		if err != nil {
			p.logger.Warn("batch job retry failed",
				slog.String("batch_id", batchID.String()),
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			retried++
		}
	}
	return retried, nil
}

// Recommendation is advice on whether an owner should batch their work.
type Recommendation struct {
	RecommendBatch bool   `json:"recommend_batch"`
	Reason         string `json:"reason"`
	PendingUnits   int    `json:"pending_units"`
	// EstimatedSavingsPercent is set only when batching is recommended.
	EstimatedSavingsPercent int `json:"estimated_savings_percent,omitempty"`
}

// GetRecommendations counts the owner's pending standalone work units
// (distinct related entities with a pending job outside any batch) and
// recommends batching at policy.BatchRecommendation.MinPendingUnits.
func (p *Processor) GetRecommendations(ctx context.Context, ownerID string) (Recommendation, error) {
	if ownerID == "" {
		return Recommendation{}, clipqueue.NewValidationError("owner_id", "must not be empty")
	}
	jobs, err := p.queue.ListJobs(ctx, job.Filter{
		OwnerID:    ownerID,
		States:     []job.State{job.StatePending},
		Standalone: true,
	})
	if err != nil {
		return Recommendation{}, err
	}
	units := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		units[j.RelatedEntityID] = struct{}{}
	}

	r := Recommendation{PendingUnits: len(units)}
	if r.PendingUnits >= policy.BatchRecommendation.MinPendingUnits {
		r.RecommendBatch = true
		r.Reason = "You have multiple pending videos. Batch processing can save time."
		r.EstimatedSavingsPercent = policy.BatchRecommendation.SavingsPercent
		return r, nil
	}
	r.Reason = "Not enough pending videos for batch processing."
	return r, nil
}

// Schedule validates the batch now and runs ProcessVideoBatch at the given
// time. The returned batch id is the one the jobs will carry.
func (p *Processor) Schedule(ctx context.Context, ownerID string, videos []VideoSpec, at time.Time, o Options) (id.BatchID, error) {
	if p.deferrer == nil {
		return id.Nil, ErrNoDeferrer
	}
	if err := validate(ownerID, videos); err != nil {
		return id.Nil, err
	}
	if !at.After(p.now()) {
		return id.Nil, clipqueue.NewValidationError("scheduled_for", "must be in the future")
	}

	batchID := id.NewBatchID()
	specs := append([]VideoSpec(nil), videos...)
	run := func(ctx context.Context) {
		if _, err := p.process(ctx, ownerID, specs, o, batchID); err != nil {
			p.logger.Error("scheduled batch failed",
				slog.String("batch_id", batchID.String()),
				slog.String("owner_id", ownerID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := p.deferrer.At(at, run); err != nil {
		return id.Nil, fmt.Errorf("schedule batch: %w", err)
	}
	p.logger.Info("batch scheduled",
		slog.String("batch_id", batchID.String()),
		slog.Time("scheduled_for", at),
		slog.Int("videos", len(videos)),
	)
	return batchID, nil
}
