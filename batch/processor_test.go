package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/batch"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/queue"
	"github.com/getshortzy/clipqueue/store/memory"
)

var base = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// projects hands out sequential project ids.
type projects struct {
	mu    sync.Mutex
	specs []batch.VideoSpec
	fail  bool
}

func (p *projects) CreateProject(_ context.Context, _ string, spec batch.VideoSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return "", errors.New("projects unavailable")
	}
	p.specs = append(p.specs, spec)
	return fmt.Sprintf("project-%d", len(p.specs)), nil
}

// deferred captures scheduled functions instead of running them.
type deferred struct {
	at  time.Time
	fns []func(context.Context)
}

func (d *deferred) At(at time.Time, fn func(context.Context)) error {
	d.at = at
	d.fns = append(d.fns, fn)
	return nil
}

type fixture struct {
	m        *queue.Manager
	p        *batch.Processor
	projects *projects
	deferred *deferred
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := queue.NewManager(memory.New(), nil, queue.WithClock(func() time.Time { return base }))
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{m: m, projects: &projects{}, deferred: &deferred{}}
	f.p = batch.NewProcessor(m, f.projects,
		batch.WithDeferrer(f.deferred),
		batch.WithClock(func() time.Time { return base }),
	)
	return f
}

func videos(n int) []batch.VideoSpec {
	out := make([]batch.VideoSpec, n)
	for i := range out {
		out[i] = batch.VideoSpec{
			Name:       fmt.Sprintf("video %d", i),
			SourceType: batch.SourceYouTube,
			SourceURL:  fmt.Sprintf("https://youtube.com/watch?v=%d", i),
			Preset:     "viral",
			Platform:   "tiktok",
		}
	}
	return out
}

func (f *fixture) submit(t *testing.T, n int) (id.BatchID, []*job.Job) {
	t.Helper()
	batchID, err := f.p.ProcessVideoBatch(context.Background(), "user-1", videos(n), batch.Options{Tier: "pro"})
	if err != nil {
		t.Fatalf("ProcessVideoBatch: %v", err)
	}
	jobs, err := f.m.ListBatch(context.Background(), batchID)
	if err != nil {
		t.Fatal(err)
	}
	return batchID, jobs
}

func (f *fixture) move(t *testing.T, j *job.Job, states ...job.State) {
	t.Helper()
	for _, s := range states {
		if _, err := f.m.RecordStatus(context.Background(), queue.Callback{JobID: j.ID, Status: s}); err != nil {
			t.Fatalf("RecordStatus(%s): %v", s, err)
		}
	}
}

func (f *fixture) view(t *testing.T, batchID id.BatchID) batch.View {
	t.Helper()
	v, ok, err := f.p.GetBatchStatus(context.Background(), batchID)
	if err != nil || !ok {
		t.Fatalf("GetBatchStatus: ok=%v err=%v", ok, err)
	}
	return v
}

func TestProcessVideoBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	batchID, jobs := f.submit(t, 3)
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(jobs))
	}
	if len(f.projects.specs) != 3 {
		t.Fatalf("projects = %d, want 3", len(f.projects.specs))
	}
	related := map[string]bool{}
	for _, j := range jobs {
		if j.Type != job.TypeBatchProcess {
			t.Errorf("type = %s", j.Type)
		}
		if j.BatchID != batchID {
			t.Errorf("batch id = %s, want %s", j.BatchID, batchID)
		}
		if j.Priority != 75 {
			t.Errorf("priority = %d, want 75", j.Priority)
		}
		related[j.RelatedEntityID] = true

		var payload map[string]any
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		if payload["total_jobs"] != float64(3) || payload["platform"] != "tiktok" {
			t.Errorf("payload = %v", payload)
		}
	}
	if len(related) != 3 {
		t.Errorf("distinct projects = %d, want 3", len(related))
	}
}

func TestProcessVideoBatch_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	bad := videos(2)
	bad[1].SourceType = "ftp"
	tests := map[string]struct {
		owner  string
		videos []batch.VideoSpec
	}{
		"no owner":       {"", videos(1)},
		"no videos":      {"user-1", nil},
		"unknown source": {"user-1", bad},
		"upload without file": {"user-1", []batch.VideoSpec{{
			Name: "v", SourceType: batch.SourceUpload, Preset: "p", Platform: "x",
		}}},
	}
	for name, tt := range tests {
		if _, err := f.p.ProcessVideoBatch(ctx, tt.owner, tt.videos, batch.Options{}); !errors.Is(err, clipqueue.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}
	if len(f.projects.specs) != 0 {
		t.Errorf("invalid batches created %d projects", len(f.projects.specs))
	}
}

func TestProcessVideoBatch_ProjectFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.projects.fail = true

	if _, err := f.p.ProcessVideoBatch(context.Background(), "user-1", videos(2), batch.Options{}); err == nil {
		t.Fatal("expected an error")
	}
	n, _ := f.m.CountJobs(context.Background(), job.Filter{})
	if n != 0 {
		t.Errorf("jobs = %d, want 0", n)
	}
}

func TestGetBatchStatus_Processing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	batchID, jobs := f.submit(t, 5)
	f.move(t, jobs[0], job.StateRunning, job.StateCompleted)
	f.move(t, jobs[1], job.StateRunning, job.StateCompleted)
	f.move(t, jobs[2], job.StateRunning, job.StateFailed)

	v := f.view(t, batchID)
	if v.Status != batch.StatusProcessing {
		t.Errorf("status = %s, want processing", v.Status)
	}
	if v.Progress != 40 {
		t.Errorf("progress = %d, want 40", v.Progress)
	}
	if v.TotalJobs != 5 || v.CompletedJobs != 2 || v.FailedJobs != 1 || v.PendingJobs != 2 {
		t.Errorf("view = %+v", v)
	}
	if v.CompletedAt != nil {
		t.Error("unfinished batch must not have a completion time")
	}
	if v.Name != "Batch "+batchID.String() {
		t.Errorf("name = %q", v.Name)
	}
}

func TestGetBatchStatus_AllFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	batchID, jobs := f.submit(t, 5)
	for _, j := range jobs {
		f.move(t, j, job.StateRunning, job.StateFailed)
	}

	v := f.view(t, batchID)
	if v.Status != batch.StatusFailed {
		t.Errorf("status = %s, want failed", v.Status)
	}
	if v.Progress != 100 {
		t.Errorf("progress = %d, want 100", v.Progress)
	}
	if v.CompletedAt == nil {
		t.Error("terminal batch needs a completion time")
	}
}

func TestGetBatchStatus_Unknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, ok, err := f.p.GetBatchStatus(context.Background(), id.NewBatchID())
	if err != nil || ok {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func TestCancelBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	batchID, jobs := f.submit(t, 3)
	f.move(t, jobs[0], job.StateRunning)

	ok, err := f.p.CancelBatch(ctx, batchID)
	if err != nil || !ok {
		t.Fatalf("CancelBatch: ok=%v err=%v", ok, err)
	}
	after, _ := f.m.ListBatch(ctx, batchID)
	for _, j := range after {
		switch j.ID {
		case jobs[0].ID:
			if j.State != job.StateRunning {
				t.Errorf("running job became %s", j.State)
			}
		default:
			if j.State != job.StateFailed || j.Error != job.BatchCancelledByUser {
				t.Errorf("job %s = %s %q", j.ID, j.State, j.Error)
			}
		}
	}

	// Nothing left to cancel, but the batch still exists.
	ok, err = f.p.CancelBatch(ctx, batchID)
	if err != nil || !ok {
		t.Errorf("second cancel: ok=%v err=%v", ok, err)
	}
	ok, err = f.p.CancelBatch(ctx, id.NewBatchID())
	if err != nil || ok {
		t.Errorf("unknown batch: ok=%v err=%v", ok, err)
	}
}

func TestRetryBatch_RepeatedRetryKeepsTotals(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	batchID, jobs := f.submit(t, 5)
	f.move(t, jobs[0], job.StateRunning, job.StateFailed)

	for range 2 {
		if _, _, err := f.m.RetryJob(ctx, jobs[0].ID); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := f.p.RetryBatch(ctx, batchID); err != nil || n != 0 {
		t.Errorf("RetryBatch after manual retry = %d, %v; want 0", n, err)
	}

	v := f.view(t, batchID)
	if v.TotalJobs != 5 || v.PendingJobs != 5 {
		t.Errorf("view = %+v, want 5 pending of 5", v)
	}
}

func TestRetryBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	batchID, jobs := f.submit(t, 3)
	f.move(t, jobs[0], job.StateRunning, job.StateCompleted)
	f.move(t, jobs[1], job.StateRunning, job.StateFailed)
	if ok, err := f.m.CancelJob(ctx, jobs[2].ID); err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	n, err := f.p.RetryBatch(ctx, batchID)
	if err != nil || n != 2 {
		t.Fatalf("RetryBatch = %d, %v; want 2", n, err)
	}

	v := f.view(t, batchID)
	if v.TotalJobs != 3 || v.PendingJobs != 2 || v.FailedJobs != 0 {
		t.Errorf("superseded jobs still counted: %+v", v)
	}
	if v.Status != batch.StatusProcessing {
		t.Errorf("status = %s, want processing", v.Status)
	}

	n, err = f.p.RetryBatch(ctx, batchID)
	if err != nil || n != 0 {
		t.Errorf("second RetryBatch = %d, %v; want 0", n, err)
	}
}

func TestGetRecommendations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	enqueue := func(project string) {
		t.Helper()
		_, err := f.m.Enqueue(ctx, queue.Request{Type: job.TypeVideoDownload, OwnerID: "user-1", RelatedEntityID: project})
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := range 4 {
		enqueue(fmt.Sprintf("p%d", i))
	}
	// Two jobs of the same project are one unit.
	enqueue("p0")
	// Batched work is not standalone.
	f.submit(t, 3)

	r, err := f.p.GetRecommendations(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.RecommendBatch || r.PendingUnits != 4 || r.EstimatedSavingsPercent != 0 {
		t.Errorf("4 units: %+v", r)
	}

	enqueue("p4")
	r, err = f.p.GetRecommendations(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !r.RecommendBatch || r.EstimatedSavingsPercent != 20 || r.Reason == "" {
		t.Errorf("5 units: %+v", r)
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	at := base.Add(2 * time.Hour)

	batchID, err := f.p.Schedule(ctx, "user-1", videos(2), at, batch.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !f.deferred.at.Equal(at) || len(f.deferred.fns) != 1 {
		t.Fatalf("deferred = %+v", f.deferred)
	}
	if _, ok, _ := f.p.GetBatchStatus(ctx, batchID); ok {
		t.Fatal("batch ran before its time")
	}

	f.deferred.fns[0](ctx)

	v := f.view(t, batchID)
	if v.TotalJobs != 2 || v.Status != batch.StatusPending {
		t.Errorf("view = %+v", v)
	}

	if _, err := f.p.Schedule(ctx, "user-1", videos(1), base.Add(-time.Minute), batch.Options{}); !errors.Is(err, clipqueue.ErrValidation) {
		t.Errorf("past time: expected ErrValidation, got %v", err)
	}
	noDefer := batch.NewProcessor(f.m, f.projects)
	if _, err := noDefer.Schedule(ctx, "user-1", videos(1), at, batch.Options{}); !errors.Is(err, batch.ErrNoDeferrer) {
		t.Errorf("expected ErrNoDeferrer, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	batchID := id.NewBatchID()
	mk := func(s job.State) *job.Job {
		return &job.Job{Entity: clipqueue.NewEntity(base), ID: id.NewJobID(), State: s, BatchID: batchID}
	}

	tests := []struct {
		name     string
		states   []job.State
		status   batch.Status
		progress int
	}{
		{"all pending", []job.State{job.StatePending, job.StatePending}, batch.StatusPending, 0},
		{"one running", []job.State{job.StateRunning, job.StatePending}, batch.StatusProcessing, 0},
		{"all completed", []job.State{job.StateCompleted, job.StateCompleted}, batch.StatusCompleted, 100},
		{"mixed terminal", []job.State{job.StateCompleted, job.StateFailed}, batch.StatusFailed, 100},
		{"one of three", []job.State{job.StateCompleted, job.StatePending, job.StatePending}, batch.StatusProcessing, 33},
	}
	for _, tt := range tests {
		jobs := make([]*job.Job, len(tt.states))
		for i, s := range tt.states {
			jobs[i] = mk(s)
		}
		v, ok := batch.Summarize(batchID, jobs)
		if !ok {
			t.Fatalf("%s: empty view", tt.name)
		}
		if v.Status != tt.status || v.Progress != tt.progress {
			t.Errorf("%s: status=%s progress=%d, want %s %d", tt.name, v.Status, v.Progress, tt.status, tt.progress)
		}
	}

	if _, ok := batch.Summarize(batchID, nil); ok {
		t.Error("empty batch must report not found")
	}
}
