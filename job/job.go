package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
)

// Type is the closed enumeration of work the queue dispatches.
type Type string

const (
	// TypeVideoDownload fetches the source video.
	TypeVideoDownload Type = "video_download"
	// TypeAudioExtract extracts the audio track.
	TypeAudioExtract Type = "audio_extract"
	// TypeTranscription transcribes extracted audio.
	TypeTranscription Type = "transcription"
	// TypeViralAnalysis scores transcript segments for viral potential.
	TypeViralAnalysis Type = "viral_analysis"
	// TypeClipGeneration cuts and renders clips.
	TypeClipGeneration Type = "clip_generation"
	// TypeBatchProcess drives the whole pipeline for one project of a batch.
	TypeBatchProcess Type = "batch_process"
)

// Types lists every job type in pipeline order.
var Types = []Type{
	TypeVideoDownload,
	TypeAudioExtract,
	TypeTranscription,
	TypeViralAnalysis,
	TypeClipGeneration,
	TypeBatchProcess,
}

// Valid reports whether t is one of the known job types.
func (t Type) Valid() bool {
	switch t {
	case TypeVideoDownload, TypeAudioExtract, TypeTranscription,
		TypeViralAnalysis, TypeClipGeneration, TypeBatchProcess:
		return true
	}
	return false
}

// ParseType parses s into a Type, rejecting values outside the enumeration.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", clipqueue.ErrUnknownJobType, s)
	}
	return t, nil
}

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is persisted and waiting for the executor.
	StatePending State = "pending"
	// StateRunning means the executor reported that it started the job.
	StateRunning State = "running"
	// StateCompleted means the executor finished the job successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed or was cancelled before it started.
	StateFailed State = "failed"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ParseState parses s into a State.
func ParseState(s string) (State, error) {
	st := State(strings.TrimSpace(s))
	if !st.Valid() {
		return "", clipqueue.NewValidationError("status", fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// transitions is the forward-only state machine.
var transitions = map[State][]State{
	StatePending: {StateRunning, StateFailed},
	StateRunning: {StateCompleted, StateFailed},
}

// CanTransition reports whether a job may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Cancellation messages stored as the job error.
const (
	CancelledByUser      = "cancelled by user"
	BatchCancelledByUser = "batch cancelled by user"
)

// PayloadVersion is the schema version stamped on new job payloads.
const PayloadVersion = 1

// Job is a single unit of asynchronous work dispatched by the queue.
type Job struct {
	clipqueue.Entity

	ID              id.JobID   `json:"id"`
	Type            Type       `json:"type"`
	State           State      `json:"status"`
	Priority        int        `json:"priority"`
	Tier            string     `json:"tier"`
	OwnerID         string     `json:"owner_id"`
	RelatedEntityID string     `json:"related_entity_id"`
	Payload         []byte     `json:"payload"`
	PayloadVersion  int        `json:"payload_version"`
	BatchID         id.BatchID `json:"batch_id,omitzero"`
	Attempt         int        `json:"attempt"`
	RetryOf         id.JobID   `json:"retry_of,omitzero"`
	Error           string     `json:"error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// InBatch reports whether the job belongs to a batch.
func (j *Job) InBatch() bool { return !j.BatchID.IsNil() }

// IsCancelled reports whether the job was failed by a user cancellation.
func (j *Job) IsCancelled() bool {
	return j.State == StateFailed && (j.Error == CancelledByUser || j.Error == BatchCancelledByUser)
}

// Duration returns how long the job ran. The second result is false until
// the job has both a start and a completion timestamp.
func (j *Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Apply mutates j according to t, enforcing the timestamp invariants:
// StartedAt is stamped on leaving pending and CompletedAt on reaching a
// terminal state. Backends call it after their compare-and-set succeeds.
func (j *Job) Apply(t Transition) {
	at := t.At.UTC()
	j.State = t.To
	j.UpdatedAt = at
	if j.StartedAt == nil {
		started := at
		j.StartedAt = &started
	}
	if t.To.Terminal() {
		completed := at
		j.CompletedAt = &completed
	}
	if t.To == StateFailed {
		j.Error = t.Error
	}
}
