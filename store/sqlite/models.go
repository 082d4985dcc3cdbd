package sqlite

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	grove.BaseModel `grove:"table:clipqueue_jobs"`

	ID              string  `grove:"id,pk"`
	Type            string  `grove:"type,notnull"`
	Status          string  `grove:"status,notnull,default:'pending'"`
	Priority        int     `grove:"priority,notnull,default:0"`
	Tier            string  `grove:"tier,notnull"`
	OwnerID         string  `grove:"owner_id,notnull"`
	RelatedEntityID string  `grove:"related_entity_id,notnull"`
	Payload         []byte  `grove:"payload,notnull"`
	PayloadVersion  int     `grove:"payload_version,notnull,default:1"`
	BatchID         *string `grove:"batch_id"`
	Attempt         int     `grove:"attempt,notnull,default:1"`
	RetryOf         *string `grove:"retry_of"`
	Error           string  `grove:"error,notnull"`
	StartedAt       *int64  `grove:"started_at"`
	CompletedAt     *int64  `grove:"completed_at"`
	CreatedAt       int64   `grove:"created_at,notnull"`
	UpdatedAt       int64   `grove:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:              j.ID.String(),
		Type:            string(j.Type),
		Status:          string(j.State),
		Priority:        j.Priority,
		Tier:            j.Tier,
		OwnerID:         j.OwnerID,
		RelatedEntityID: j.RelatedEntityID,
		Payload:         j.Payload,
		PayloadVersion:  j.PayloadVersion,
		BatchID:         optionalID(j.BatchID),
		Attempt:         j.Attempt,
		RetryOf:         optionalID(j.RetryOf),
		Error:           j.Error,
		StartedAt:       nanosPtr(j.StartedAt),
		CompletedAt:     nanosPtr(j.CompletedAt),
		CreatedAt:       nanos(j.CreatedAt),
		UpdatedAt:       nanos(j.UpdatedAt),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/sqlite: parse job id %q: %w", m.ID, err)
	}
	batchID, err := parseOptional(m.BatchID, id.PrefixBatch)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/sqlite: parse batch id: %w", err)
	}
	retryOf, err := parseOptional(m.RetryOf, id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/sqlite: parse retry_of: %w", err)
	}

	return &job.Job{
		Entity: clipqueue.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:              parsedID,
		Type:            job.Type(m.Type),
		State:           job.State(m.Status),
		Priority:        m.Priority,
		Tier:            m.Tier,
		OwnerID:         m.OwnerID,
		RelatedEntityID: m.RelatedEntityID,
		Payload:         m.Payload,
		PayloadVersion:  m.PayloadVersion,
		BatchID:         batchID,
		Attempt:         m.Attempt,
		RetryOf:         retryOf,
		Error:           m.Error,
		StartedAt:       fromNanosPtr(m.StartedAt),
		CompletedAt:     fromNanosPtr(m.CompletedAt),
	}, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func optionalID(i id.ID) *string {
	if i.IsNil() {
		return nil
	}
	s := i.String()
	return &s
}

func parseOptional(s *string, prefix id.Prefix) (id.ID, error) {
	if s == nil {
		return id.Nil, nil
	}
	return id.ParseOptional(*s, prefix)
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func nanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := nanos(*t)
	return &n
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}
