package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

func TestCanTransition(t *testing.T) {
	states := []job.State{job.StatePending, job.StateRunning, job.StateCompleted, job.StateFailed}
	allowed := map[[2]job.State]bool{
		{job.StatePending, job.StateRunning}:   true,
		{job.StatePending, job.StateFailed}:    true,
		{job.StateRunning, job.StateCompleted}: true,
		{job.StateRunning, job.StateFailed}:    true,
	}

	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]job.State{from, to}]
			if got := job.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range job.Types {
		got, err := job.ParseType(string(typ))
		if err != nil {
			t.Fatalf("ParseType(%q): %v", typ, err)
		}
		if got != typ {
			t.Errorf("ParseType(%q) = %q", typ, got)
		}
	}

	_, err := job.ParseType("render_subtitles")
	if !errors.Is(err, clipqueue.ErrUnknownJobType) {
		t.Fatalf("expected ErrUnknownJobType, got %v", err)
	}
}

func TestParseState(t *testing.T) {
	if _, err := job.ParseState("running"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := job.ParseState("cancelled"); !errors.Is(err, clipqueue.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApply_Timestamps(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	j := &job.Job{Entity: clipqueue.NewEntity(created), ID: id.NewJobID(), State: job.StatePending}

	started := created.Add(time.Minute)
	j.Apply(job.Transition{From: job.StatePending, To: job.StateRunning, At: started})
	if j.StartedAt == nil || !j.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", j.StartedAt, started)
	}
	if j.CompletedAt != nil {
		t.Fatal("CompletedAt set on running job")
	}

	done := started.Add(2 * time.Minute)
	j.Apply(job.Transition{From: job.StateRunning, To: job.StateFailed, Error: "ffmpeg exited 1", At: done})
	if j.CompletedAt == nil || !j.CompletedAt.Equal(done) {
		t.Fatalf("CompletedAt = %v, want %v", j.CompletedAt, done)
	}
	if !j.StartedAt.Equal(started) {
		t.Error("StartedAt changed on completion")
	}
	if j.Error != "ffmpeg exited 1" {
		t.Errorf("Error = %q", j.Error)
	}
	if d, ok := j.Duration(); !ok || d != 2*time.Minute {
		t.Errorf("Duration = %v, %v", d, ok)
	}
}

func TestApply_CancelStampsBoth(t *testing.T) {
	now := time.Now().UTC()
	j := &job.Job{Entity: clipqueue.NewEntity(now), State: job.StatePending}
	j.Apply(job.Transition{From: job.StatePending, To: job.StateFailed, Error: job.CancelledByUser, At: now})

	if j.StartedAt == nil || j.CompletedAt == nil {
		t.Fatal("cancelled job must carry both timestamps")
	}
	if !j.IsCancelled() {
		t.Error("expected IsCancelled")
	}
}

func TestFilter_Matches(t *testing.T) {
	now := time.Now().UTC()
	batch := id.NewBatchID()
	completed := now.Add(-time.Hour)

	inBatch := &job.Job{Entity: clipqueue.NewEntity(now.Add(-2 * time.Hour)), Type: job.TypeBatchProcess, State: job.StateCompleted, OwnerID: "u1", BatchID: batch, CompletedAt: &completed}
	standalone := &job.Job{Entity: clipqueue.NewEntity(now), Type: job.TypeVideoDownload, State: job.StatePending, OwnerID: "u2"}

	tests := []struct {
		name   string
		filter job.Filter
		want   [2]bool
	}{
		{"empty", job.Filter{}, [2]bool{true, true}},
		{"state", job.Filter{States: []job.State{job.StatePending}}, [2]bool{false, true}},
		{"type", job.Filter{Types: []job.Type{job.TypeBatchProcess}}, [2]bool{true, false}},
		{"owner", job.Filter{OwnerID: "u2"}, [2]bool{false, true}},
		{"batch", job.Filter{BatchID: batch}, [2]bool{true, false}},
		{"standalone", job.Filter{Standalone: true}, [2]bool{false, true}},
		{"created after", job.Filter{CreatedAfter: now.Add(-time.Hour)}, [2]bool{false, true}},
		{"created before", job.Filter{CreatedBefore: now.Add(-time.Hour)}, [2]bool{true, false}},
		{"completed after", job.Filter{CompletedAfter: now.Add(-90 * time.Minute)}, [2]bool{true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(inBatch); got != tt.want[0] {
				t.Errorf("batch job: got %v, want %v", got, tt.want[0])
			}
			if got := tt.filter.Matches(standalone); got != tt.want[1] {
				t.Errorf("standalone job: got %v, want %v", got, tt.want[1])
			}
		})
	}
}

func TestClone_Independent(t *testing.T) {
	now := time.Now()
	j := &job.Job{Payload: []byte(`{"a":1}`), StartedAt: &now}
	cp := j.Clone()
	cp.Payload[0] = 'x'
	*cp.StartedAt = now.Add(time.Hour)

	if j.Payload[0] != '{' {
		t.Error("payload shared between clone and original")
	}
	if !j.StartedAt.Equal(now) {
		t.Error("StartedAt shared between clone and original")
	}
}
