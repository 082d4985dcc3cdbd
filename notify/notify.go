// Package notify delivers enqueued jobs to the execution substrate.
//
// Delivery is fire-and-forget and at-least-once: a job is durably stored
// before its [Notification] is sent, a failed send is logged rather than
// surfaced, and reconciliation may send the same job again. Executors must
// treat JobID as an idempotency key.
//
// Three transports are provided: [Channel] for an in-process worker pool,
// [Redis] for a Redis Streams consumer group, and [Async], which wraps any
// slow [Notifier] so that callers never block on it.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
)

// Notification is the message handed to the executor for one job.
type Notification struct {
	JobID           string   `json:"job_id" msgpack:"job_id"`
	Event           string   `json:"event" msgpack:"event"`
	Type            job.Type `json:"type" msgpack:"type"`
	Priority        int      `json:"priority" msgpack:"priority"`
	Tier            string   `json:"tier" msgpack:"tier"`
	OwnerID         string   `json:"owner_id" msgpack:"owner_id"`
	RelatedEntityID string   `json:"related_entity_id" msgpack:"related_entity_id"`
	BatchID         string   `json:"batch_id,omitempty" msgpack:"batch_id,omitempty"`
	Payload         []byte   `json:"payload,omitempty" msgpack:"payload,omitempty"`
	PayloadVersion  int      `json:"payload_version" msgpack:"payload_version"`
	Attempt         int      `json:"attempt" msgpack:"attempt"`

	// Execution metadata the executor is expected to honor.
	TimeoutSeconds int    `json:"timeout_seconds" msgpack:"timeout_seconds"`
	Concurrency    int    `json:"concurrency" msgpack:"concurrency"`
	MaxAttempts    int    `json:"max_attempts" msgpack:"max_attempts"`
	Backoff        string `json:"backoff" msgpack:"backoff"`
	BackoffDelayMS int64  `json:"backoff_delay_ms" msgpack:"backoff_delay_ms"`

	SentAt time.Time `json:"sent_at" msgpack:"sent_at"`
}

// FromJob builds the notification for j, attaching the limits of its type.
func FromJob(j *job.Job, now time.Time) Notification {
	limits := policy.LimitsFor(j.Type)
	n := Notification{
		JobID:           j.ID.String(),
		Event:           policy.EventName(j.Type),
		Type:            j.Type,
		Priority:        j.Priority,
		Tier:            j.Tier,
		OwnerID:         j.OwnerID,
		RelatedEntityID: j.RelatedEntityID,
		Payload:         j.Payload,
		PayloadVersion:  j.PayloadVersion,
		Attempt:         j.Attempt,
		TimeoutSeconds:  int(limits.Timeout / time.Second),
		Concurrency:     limits.Concurrency,
		MaxAttempts:     limits.Retry.MaxAttempts,
		Backoff:         string(limits.Retry.Strategy),
		BackoffDelayMS:  limits.Retry.InitialDelay.Milliseconds(),
		SentAt:          now.UTC(),
	}
	if j.InBatch() {
		n.BatchID = j.BatchID.String()
	}
	return n
}

// Job rebuilds the pending job n describes. Fields the notification does
// not carry, such as timestamps, are left zero.
func (n Notification) Job() (*job.Job, error) {
	jobID, err := id.ParseJobID(n.JobID)
	if err != nil {
		return nil, fmt.Errorf("notification job id: %w", err)
	}
	batchID, err := id.ParseOptional(n.BatchID, id.PrefixBatch)
	if err != nil {
		return nil, fmt.Errorf("notification batch id: %w", err)
	}
	if !n.Type.Valid() {
		return nil, fmt.Errorf("notification %s: %w: %q", n.JobID, clipqueue.ErrUnknownJobType, n.Type)
	}
	return &job.Job{
		ID:              jobID,
		Type:            n.Type,
		State:           job.StatePending,
		Priority:        n.Priority,
		Tier:            n.Tier,
		OwnerID:         n.OwnerID,
		RelatedEntityID: n.RelatedEntityID,
		Payload:         n.Payload,
		PayloadVersion:  n.PayloadVersion,
		BatchID:         batchID,
		Attempt:         n.Attempt,
	}, nil
}

// Notifier hands a notification to the executor. Implementations must not
// block on executor availability.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Source yields notifications to an in-process consumer.
type Source interface {
	// Receive blocks until a notification is available or ctx is done.
	Receive(ctx context.Context) (Notification, error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Discard drops every notification. Deployments that only reconcile by
// polling use it.
var Discard Notifier = NotifierFunc(func(context.Context, Notification) error { return nil })
