package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/getshortzy/clipqueue/audit_hook"
	"github.com/getshortzy/clipqueue/ext"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu      sync.Mutex
	records []*ah.Record
	err     error
}

func (m *mockRecorder) Record(_ context.Context, r *ah.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return m.err
}

func (m *mockRecorder) find(action string) *ah.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Action == action {
			return r
		}
	}
	return nil
}

func newJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Type:     job.TypeClipGeneration,
		State:    job.StatePending,
		Priority: 42,
		Tier:     "pro",
		OwnerID:  "user-1",
		Attempt:  1,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_RecordsEveryHook(t *testing.T) {
	t.Parallel()
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	j := newJob()
	retry := newJob()
	retry.Attempt = 2

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 1500*time.Millisecond)
	reg.EmitJobFailed(ctx, j, "encoder crashed")
	reg.EmitJobCancelled(ctx, j)
	reg.EmitJobRetried(ctx, j, retry)
	reg.EmitBatchEnqueued(ctx, id.NewBatchID(), []id.JobID{j.ID, retry.ID})
	reg.EmitCronFired(ctx, "cleanup", nil)

	for _, action := range ah.AllActions() {
		if rec.find(action) == nil {
			t.Errorf("no record for %s", action)
		}
	}

	tests := []struct {
		action   string
		severity string
		outcome  string
	}{
		{ah.ActionJobEnqueued, ah.SeverityInfo, ah.OutcomeSuccess},
		{ah.ActionJobFailed, ah.SeverityCritical, ah.OutcomeFailure},
		{ah.ActionJobCancelled, ah.SeverityWarning, ah.OutcomeSuccess},
		{ah.ActionJobRetried, ah.SeverityWarning, ah.OutcomeSuccess},
	}
	for _, tt := range tests {
		r := rec.find(tt.action)
		if r.Severity != tt.severity || r.Outcome != tt.outcome {
			t.Errorf("%s: severity=%s outcome=%s", tt.action, r.Severity, r.Outcome)
		}
	}

	enq := rec.find(ah.ActionJobEnqueued)
	if enq.OwnerID != "user-1" || enq.ResourceID != j.ID.String() || enq.Metadata["priority"] != 42 {
		t.Errorf("enqueued record = %+v", enq)
	}
	if _, ok := enq.Metadata["batch_id"]; ok {
		t.Error("empty batch id recorded")
	}
	if rec.find(ah.ActionJobFailed).Reason != "encoder crashed" {
		t.Error("failure reason not recorded")
	}
	if rec.find(ah.ActionJobCompleted).Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("elapsed = %v", rec.find(ah.ActionJobCompleted).Metadata["elapsed_ms"])
	}
	if rec.find(ah.ActionBatchEnqueued).Metadata["jobs"] != 2 {
		t.Error("batch size not recorded")
	}
}

func TestExtension_WithActionsFilters(t *testing.T) {
	t.Parallel()
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobFailed))

	ctx := context.Background()
	j := newJob()
	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobFailed(ctx, j, "boom")

	if len(rec.records) != 1 || rec.records[0].Action != ah.ActionJobFailed {
		t.Errorf("records = %+v", rec.records)
	}
}

func TestExtension_RecorderErrorIsSwallowed(t *testing.T) {
	t.Parallel()
	rec := &mockRecorder{err: errors.New("audit store down")}
	e := ah.New(rec)
	if err := e.OnJobStarted(context.Background(), newJob()); err != nil {
		t.Errorf("hook returned %v", err)
	}
}

func TestExtension_CronFailure(t *testing.T) {
	t.Parallel()
	rec := &mockRecorder{}
	_ = ah.New(rec).OnCronFired(context.Background(), "reconcile", errors.New("store unavailable"))

	r := rec.find(ah.ActionCronFired)
	if r.Outcome != ah.OutcomeFailure || r.Reason != "store unavailable" {
		t.Errorf("record = %+v", r)
	}
}

func TestLogRecorder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	e := ah.New(ah.LogRecorder(logger))
	_ = e.OnJobFailed(context.Background(), newJob(), "timeout")

	out := buf.String()
	for _, want := range []string{"level=ERROR", "action=job.failed", "owner_id=user-1", "reason=timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}
