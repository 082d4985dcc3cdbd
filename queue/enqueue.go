package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
)

// Request describes one job to enqueue.
type Request struct {
	Type            job.Type
	OwnerID         string
	RelatedEntityID string
	// Payload is the executor input. It may be nil, a json.RawMessage or
	// []byte holding a JSON object, or any value that marshals to one.
	Payload any
}

// EnqueueOption adjusts how a request is enqueued.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	tier     policy.Tier
	urgent   bool
	priority *int
	batchID  id.BatchID
}

// WithTier sets the caller's subscription tier. Unknown tiers are treated
// as free.
func WithTier(tier string) EnqueueOption {
	return func(o *enqueueOptions) { o.tier = policy.ParseTier(tier) }
}

// Urgent marks the job as urgent, raising its priority.
func Urgent() EnqueueOption {
	return func(o *enqueueOptions) { o.urgent = true }
}

// WithPriority overrides the computed priority. The value is clamped to
// the valid range.
func WithPriority(p int) EnqueueOption {
	return func(o *enqueueOptions) {
		p = policy.ClampPriority(p)
		o.priority = &p
	}
}

// WithBatchID makes EnqueueBatch use batchID instead of generating one.
// Scheduled batches use it to hand out the id before the jobs exist.
func WithBatchID(batchID id.BatchID) EnqueueOption {
	return func(o *enqueueOptions) { o.batchID = batchID }
}

func collect(opts []EnqueueOption) enqueueOptions {
	o := enqueueOptions{tier: policy.TierFree}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// encodePayload normalises p to the bytes of a JSON object.
func encodePayload(p any) ([]byte, error) {
	var raw []byte
	switch v := p.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &clipqueue.ValidationError{Field: "payload", Reason: "not serializable", Err: err}
		}
		raw = b
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, clipqueue.NewValidationError("payload", "invalid JSON")
	}
	if raw[0] != '{' {
		return nil, clipqueue.NewValidationError("payload", "must be a JSON object")
	}
	return append([]byte(nil), raw...), nil
}

// build validates req and returns the pending job it describes.
func (m *Manager) build(req Request, o enqueueOptions) (*job.Job, error) {
	if !req.Type.Valid() {
		return nil, &clipqueue.ValidationError{
			Field:  "type",
			Reason: fmt.Sprintf("%q is not a known job type", req.Type),
			Err:    clipqueue.ErrUnknownJobType,
		}
	}
	if req.OwnerID == "" {
		return nil, clipqueue.NewValidationError("owner_id", "must not be empty")
	}
	if req.RelatedEntityID == "" {
		return nil, clipqueue.NewValidationError("related_entity_id", "must not be empty")
	}
	payload, err := encodePayload(req.Payload)
	if err != nil {
		return nil, err
	}

	priority := policy.PriorityFor(o.tier, req.Type, o.urgent)
	if o.priority != nil {
		priority = *o.priority
	}

	return &job.Job{
		Entity:          clipqueue.NewEntity(m.clock()),
		ID:              id.NewJobID(),
		Type:            req.Type,
		State:           job.StatePending,
		Priority:        priority,
		Tier:            string(o.tier),
		OwnerID:         req.OwnerID,
		RelatedEntityID: req.RelatedEntityID,
		Payload:         payload,
		PayloadVersion:  job.PayloadVersion,
		Attempt:         1,
	}, nil
}

// submit persists j, then notifies the executor and emits the hook.
func (m *Manager) submit(ctx context.Context, j *job.Job) error {
	if err := m.store.CreateJob(ctx, j); err != nil {
		return clipqueue.WrapStorage("create job", err)
	}
	m.dispatch(ctx, j)
	m.extensions.EmitJobEnqueued(ctx, j)
	return nil
}

// Enqueue validates req, persists it as a pending job and notifies the
// executor. It returns a ValidationError for malformed input and a
// StorageError when the job could not be persisted. A failed notification
// is not an error.
func (m *Manager) Enqueue(ctx context.Context, req Request, opts ...EnqueueOption) (id.JobID, error) {
	j, err := m.build(req, collect(opts))
	if err != nil {
		return id.Nil, err
	}
	if err := m.submit(ctx, j); err != nil {
		return id.Nil, err
	}
	m.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("priority", j.Priority),
	)
	return j.ID, nil
}

// BatchResult is the outcome of EnqueueBatch. JobIDs follows request
// order and omits jobs that failed to persist.
type BatchResult struct {
	BatchID id.BatchID `json:"batch_id"`
	JobIDs  []id.JobID `json:"job_ids"`
}

// EnqueueBatch enqueues every request under one shared batch id. Input is
// validated up front, so a ValidationError creates no jobs. Persistence is
// best-effort: when some writes fail the jobs that were created stay valid
// and are returned together with the joined errors.
func (m *Manager) EnqueueBatch(ctx context.Context, reqs []Request, opts ...EnqueueOption) (BatchResult, error) {
	if len(reqs) == 0 {
		return BatchResult{}, clipqueue.NewValidationError("jobs", "batch must contain at least one job")
	}
	o := collect(opts)
	batchID := o.batchID
	if batchID.IsNil() {
		batchID = id.NewBatchID()
	}

	jobs := make([]*job.Job, len(reqs))
	for i, req := range reqs {
		j, err := m.build(req, o)
		if err != nil {
			return BatchResult{}, fmt.Errorf("job %d: %w", i, err)
		}
		j.BatchID = batchID
		jobs[i] = j
	}

	var (
		mu   sync.Mutex
		errs []error
		ok   = make([]bool, len(jobs))
	)
	var g errgroup.Group
	g.SetLimit(m.batchConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if err := m.submit(ctx, j); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("job %d: %w", i, err))
				mu.Unlock()
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{BatchID: batchID, JobIDs: make([]id.JobID, 0, len(jobs))}
	for i, j := range jobs {
		if ok[i] {
			res.JobIDs = append(res.JobIDs, j.ID)
		}
	}
	if len(res.JobIDs) > 0 {
		m.extensions.EmitBatchEnqueued(ctx, batchID, res.JobIDs)
	}

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Error("batch partially enqueued",
			slog.String("batch_id", batchID.String()),
			slog.Int("created", len(res.JobIDs)),
			slog.Int("requested", len(jobs)),
			slog.String("error", err.Error()),
		)
	} else {
		m.logger.Info("batch enqueued",
			slog.String("batch_id", batchID.String()),
			slog.Int("jobs", len(res.JobIDs)),
		)
	}
	return res, err
}
