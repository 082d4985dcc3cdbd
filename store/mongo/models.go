package mongo

import (
	"fmt"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// ── Job model ─────────────────────────────────────────────────────

// jobModel is the stored document. Empty batch_id and retry_of strings
// stand for no batch and no retry source.
type jobModel struct {
	ID              string     `bson:"_id"`
	Type            string     `bson:"type"`
	Status          string     `bson:"status"`
	Priority        int        `bson:"priority"`
	Tier            string     `bson:"tier"`
	OwnerID         string     `bson:"owner_id"`
	RelatedEntityID string     `bson:"related_entity_id"`
	Payload         []byte     `bson:"payload"`
	PayloadVersion  int        `bson:"payload_version"`
	BatchID         string     `bson:"batch_id"`
	Attempt         int        `bson:"attempt"`
	RetryOf         string     `bson:"retry_of"`
	Error           string     `bson:"error"`
	StartedAt       *time.Time `bson:"started_at,omitempty"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
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
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/mongo: parse job id %q: %w", m.ID, err)
	}
	batchID, err := id.ParseOptional(m.BatchID, id.PrefixBatch)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/mongo: parse batch id %q: %w", m.BatchID, err)
	}
	retryOf, err := id.ParseOptional(m.RetryOf, id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/mongo: parse retry_of %q: %w", m.RetryOf, err)
	}

	return &job.Job{
		Entity: clipqueue.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:              jobID,
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

// ── Lock model ────────────────────────────────────────────────────

type lockModel struct {
	Name        string    `bson:"_id"`
	Owner       string    `bson:"owner"`
	LockedUntil time.Time `bson:"locked_until"`
}
