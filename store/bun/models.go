package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:clipqueue_jobs"`

	ID              string     `bun:"id,pk"`
	Type            string     `bun:"type,notnull"`
	Status          string     `bun:"status,notnull"`
	Priority        int        `bun:"priority,notnull"`
	Tier            string     `bun:"tier,notnull"`
	OwnerID         string     `bun:"owner_id,notnull"`
	RelatedEntityID string     `bun:"related_entity_id,notnull"`
	Payload         []byte     `bun:"payload,notnull,type:bytea"`
	PayloadVersion  int        `bun:"payload_version,notnull"`
	BatchID         string     `bun:"batch_id,nullzero"`
	Attempt         int        `bun:"attempt,notnull"`
	RetryOf         string     `bun:"retry_of,nullzero"`
	Error           string     `bun:"error,notnull"`
	StartedAt       *time.Time `bun:"started_at"`
	CompletedAt     *time.Time `bun:"completed_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
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
		BatchID:         j.BatchID.String(),
		Attempt:         j.Attempt,
		RetryOf:         j.RetryOf.String(),
		Error:           j.Error,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		CreatedAt:       j.CreatedAt.UTC(),
		UpdatedAt:       j.UpdatedAt.UTC(),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/bun: parse job id %q: %w", m.ID, err)
	}
	batchID, err := id.ParseOptional(m.BatchID, id.PrefixBatch)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/bun: parse batch id %q: %w", m.BatchID, err)
	}
	retryOf, err := id.ParseOptional(m.RetryOf, id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/bun: parse retry_of %q: %w", m.RetryOf, err)
	}

	return &job.Job{
		Entity: clipqueue.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
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
		StartedAt:       utcPtr(m.StartedAt),
		CompletedAt:     utcPtr(m.CompletedAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
