package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/limiter"
	"github.com/getshortzy/clipqueue/middleware"
	"github.com/getshortzy/clipqueue/notify"
	"github.com/getshortzy/clipqueue/queue"
	"github.com/getshortzy/clipqueue/store/memory"
	"github.com/getshortzy/clipqueue/worker"
)

type harness struct {
	m        *queue.Manager
	ch       *notify.Channel
	registry *job.Registry
	executor *worker.Executor
	pool     *worker.Pool
}

func setup(t *testing.T, mws []middleware.Middleware, opts ...worker.PoolOption) *harness {
	t.Helper()
	logger := slog.Default()
	ch := notify.NewChannel(64)
	m, err := queue.NewManager(memory.New(), ch, queue.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	reg := job.NewRegistry()
	exec := worker.NewExecutor(reg, m, logger, mws...)
	opts = append([]worker.PoolOption{worker.WithLimitBackoff(10 * time.Millisecond)}, opts...)
	pool := worker.NewPool(ch, exec, logger, opts...)
	h := &harness{m: m, ch: ch, registry: reg, executor: exec, pool: pool}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return h
}

func (h *harness) enqueue(t *testing.T, typ job.Type) id.JobID {
	t.Helper()
	jobID, err := h.m.Enqueue(context.Background(), queue.Request{
		Type:            typ,
		OwnerID:         "user-1",
		RelatedEntityID: "project-1",
		Payload:         map[string]string{"name": "Alice"},
	}, queue.WithTier("enterprise"))
	if err != nil {
		t.Fatal(err)
	}
	return jobID
}

func (h *harness) waitFor(t *testing.T, jobID id.JobID, want job.State) queue.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, ok, err := h.m.GetStatus(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if ok && st.Status == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return queue.JobStatus{}
}

func TestPool_StartStop(t *testing.T) {
	h := setup(t, nil, worker.WithPoolConcurrency(2))

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
	if h.pool.WorkerID().IsNil() {
		t.Error("worker id not set")
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	h := setup(t, []middleware.Middleware{middleware.Inject()})

	var processed atomic.Bool
	job.Register(h.registry, job.TypeTranscription, func(ctx context.Context, p struct{ Name string }) error {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want Alice", p.Name)
		}
		if _, ok := middleware.JobFromContext(ctx); !ok {
			t.Error("job not injected into context")
		}
		processed.Store(true)
		return nil
	})

	jobID := h.enqueue(t, job.TypeTranscription)
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := h.waitFor(t, jobID, job.StateCompleted)
	if !processed.Load() {
		t.Error("handler not called")
	}
	if st.StartedAt == nil || st.CompletedAt == nil {
		t.Error("timestamps not recorded")
	}
}

func TestPool_RetriesAfterBackoff(t *testing.T) {
	h := setup(t, []middleware.Middleware{middleware.Recover(slog.Default())})

	var calls atomic.Int32
	h.registry.Handle(job.TypeVideoDownload, func(context.Context, *job.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("cdn timeout")
		}
		return nil
	})

	src := h.enqueue(t, job.TypeVideoDownload)
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	failed := h.waitFor(t, src, job.StateFailed)
	if failed.Error != "cdn timeout" {
		t.Errorf("error = %q", failed.Error)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := h.m.ListJobs(context.Background(), job.Filter{States: []job.State{job.StateCompleted}})
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) == 1 {
			if jobs[0].RetryOf != src || jobs[0].Attempt != 2 {
				t.Errorf("retry = %+v", jobs[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("retry never completed")
}

func TestPool_StopFlushesPendingRetries(t *testing.T) {
	h := setup(t, nil)

	// Transcription retries after a 5s linear backoff.
	h.registry.Handle(job.TypeTranscription, func(context.Context, *job.Job) error {
		return errors.New("model unavailable")
	})
	src := h.enqueue(t, job.TypeTranscription)
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.waitFor(t, src, job.StateFailed)

	deadline := time.Now().Add(2 * time.Second)
	for h.executor.PendingRetries() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("retry never scheduled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	pending, err := h.m.ListJobs(context.Background(), job.Filter{States: []job.State{job.StatePending}})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].RetryOf != src {
		t.Fatalf("pending after stop = %+v", pending)
	}
	if h.executor.PendingRetries() != 0 {
		t.Error("retry timers left behind")
	}
}

func TestPool_SkipsCancelledJob(t *testing.T) {
	h := setup(t, nil)

	var calls atomic.Int32
	h.registry.Handle(job.TypeClipGeneration, func(context.Context, *job.Job) error {
		calls.Add(1)
		return nil
	})

	cancelled := h.enqueue(t, job.TypeClipGeneration)
	if ok, err := h.m.CancelJob(context.Background(), cancelled); err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	live := h.enqueue(t, job.TypeClipGeneration)

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.waitFor(t, live, job.StateCompleted)

	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	st, _, _ := h.m.GetStatus(context.Background(), cancelled)
	if st.Status != job.StateFailed || st.Error != job.CancelledByUser {
		t.Errorf("cancelled job = %+v", st)
	}
}

func TestPool_DuplicateNotificationRunsOnce(t *testing.T) {
	h := setup(t, nil, worker.WithPoolConcurrency(1))

	var calls atomic.Int32
	h.registry.Handle(job.TypeAudioExtract, func(context.Context, *job.Job) error {
		calls.Add(1)
		return nil
	})

	jobID := h.enqueue(t, job.TypeAudioExtract)
	if _, err := h.m.Renotify(context.Background(), 0, 0); err != nil {
		t.Fatal(err)
	}
	if h.ch.Len() != 2 {
		t.Fatalf("buffered = %d, want 2", h.ch.Len())
	}

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.waitFor(t, jobID, job.StateCompleted)
	deadline := time.Now().Add(2 * time.Second)
	for h.ch.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestPool_UnknownHandlerFailsJob(t *testing.T) {
	h := setup(t, nil)

	jobID := h.enqueue(t, job.TypeBatchProcess)
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := h.waitFor(t, jobID, job.StateFailed)
	if !strings.Contains(st.Error, "no handler registered") {
		t.Errorf("error = %q", st.Error)
	}
}

func TestPool_TimeoutFailsJob(t *testing.T) {
	h := setup(t, []middleware.Middleware{
		middleware.TimeoutFunc(slog.Default(), func(job.Type) time.Duration { return 20 * time.Millisecond }),
	})

	h.registry.Handle(job.TypeBatchProcess, func(ctx context.Context, _ *job.Job) error {
		<-ctx.Done()
		return ctx.Err()
	})

	jobID := h.enqueue(t, job.TypeBatchProcess)
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := h.waitFor(t, jobID, job.StateFailed)
	if !strings.Contains(st.Error, middleware.ErrTimeout.Error()) {
		t.Errorf("error = %q", st.Error)
	}
}

func TestPool_LimiterCapsTypeConcurrency(t *testing.T) {
	lim := limiter.New(limiter.WithTypeConcurrency(job.TypeViralAnalysis, 1), limiter.WithoutOwnerLimits())
	h := setup(t, nil, worker.WithPoolConcurrency(4), worker.WithLimiter(lim))

	var active, peak atomic.Int32
	h.registry.Handle(job.TypeViralAnalysis, func(context.Context, *job.Job) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	ids := make([]id.JobID, 4)
	for i := range ids {
		ids[i] = h.enqueue(t, job.TypeViralAnalysis)
	}
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, jobID := range ids {
		h.waitFor(t, jobID, job.StateCompleted)
	}

	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
	if lim.ActiveCount(job.TypeViralAnalysis) != 0 {
		t.Errorf("slots leaked: %d", lim.ActiveCount(job.TypeViralAnalysis))
	}
}

func TestPool_ThrottledOwnerDoesNotStallOthers(t *testing.T) {
	lim := limiter.New()
	h := setup(t, nil, worker.WithPoolConcurrency(2), worker.WithLimiter(lim))
	h.registry.Handle(job.TypeVideoDownload, func(context.Context, *job.Job) error { return nil })
	h.registry.Handle(job.TypeTranscription, func(context.Context, *job.Job) error { return nil })

	submit := func(typ job.Type, owner, tier string) id.JobID {
		jobID, err := h.m.Enqueue(context.Background(), queue.Request{
			Type:            typ,
			OwnerID:         owner,
			RelatedEntityID: "project-1",
		}, queue.WithTier(tier))
		if err != nil {
			t.Fatal(err)
		}
		return jobID
	}

	// The free tier admits three videos an hour; the last two are refused.
	free := make([]id.JobID, 5)
	for i := range free {
		free[i] = submit(job.TypeVideoDownload, "free-user", "free")
	}
	paid := submit(job.TypeTranscription, "enterprise-user", "enterprise")

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.waitFor(t, paid, job.StateCompleted)

	var completed int
	for _, jobID := range free {
		st, _, err := h.m.GetStatus(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if st.Status == job.StateCompleted {
			completed++
		}
	}
	if completed > 3 {
		t.Errorf("free owner ran %d videos, budget is 3", completed)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.pool.Parked() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.pool.Parked(); got != 2 {
		t.Errorf("parked = %d, want 2", got)
	}
}
