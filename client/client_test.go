package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/api"
	"github.com/getshortzy/clipqueue/batch"
	"github.com/getshortzy/clipqueue/client"
	"github.com/getshortzy/clipqueue/engine"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
	"github.com/getshortzy/clipqueue/store/memory"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) *client.Client {
	t.Helper()
	eng, err := engine.Build(memory.New(), engine.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	srv := httptest.NewServer(api.New(eng, api.WithLogger(testLogger())).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return client.New(srv.URL, client.WithLogger(testLogger()))
}

func enqueue(t *testing.T, c *client.Client) id.JobID {
	t.Helper()
	jobID, err := c.Enqueue(context.Background(), client.EnqueueRequest{
		Type:            job.TypeTranscription,
		OwnerID:         "user-1",
		RelatedEntityID: "project-1",
		Payload:         []byte(`{"language":"en"}`),
		Tier:            "starter",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

// ── Tests ─────────────────────────────────────────────

func TestClient_ExecutorFlow(t *testing.T) {
	t.Parallel()
	c := setup(t)
	ctx := context.Background()
	jobID := enqueue(t, c)

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	applied, err := c.ReportStatus(ctx, jobID, job.StateRunning, "")
	if err != nil || !applied {
		t.Fatalf("running: applied=%v err=%v", applied, err)
	}
	applied, err = c.ReportStatus(ctx, jobID, job.StateRunning, "")
	if err != nil || applied {
		t.Errorf("duplicate: applied=%v err=%v", applied, err)
	}
	if _, err := c.ReportStatus(ctx, jobID, job.StateCompleted, ""); err != nil {
		t.Fatal(err)
	}

	st, err := c.GetJob(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != job.StateCompleted || st.StartedAt == nil || st.CompletedAt == nil {
		t.Errorf("status = %+v", st)
	}

	if _, err := c.ReportStatus(ctx, jobID, job.StateRunning, ""); !errors.Is(err, clipqueue.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	stats, err := c.QueueStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClient_CancelAndRetry(t *testing.T) {
	t.Parallel()
	c := setup(t)
	ctx := context.Background()
	jobID := enqueue(t, c)

	ok, err := c.CancelJob(ctx, jobID)
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	newID, ok, err := c.RetryJob(ctx, jobID)
	if err != nil || !ok || newID.IsNil() {
		t.Fatalf("retry: id=%s ok=%v err=%v", newID, ok, err)
	}
	st, err := c.GetJob(ctx, newID)
	if err != nil {
		t.Fatal(err)
	}
	if st.RetryOf != jobID || st.Attempt != 2 {
		t.Errorf("retry view = %+v", st)
	}
}

func TestClient_ErrorsMatchSentinels(t *testing.T) {
	t.Parallel()
	c := setup(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, client.EnqueueRequest{Type: "upscale", OwnerID: "u", RelatedEntityID: "p"})
	if !errors.Is(err, clipqueue.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Field != "type" {
		t.Errorf("api error = %#v", err)
	}

	if _, err := c.GetJob(ctx, id.NewJobID()); !errors.Is(err, clipqueue.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClient_Batches(t *testing.T) {
	t.Parallel()
	c := setup(t)
	ctx := context.Background()

	batchID, err := c.SubmitBatch(ctx, client.BatchRequest{
		OwnerID: "user-1",
		Tier:    "pro",
		Videos: []batch.VideoSpec{
			{Name: "ep1", SourceType: batch.SourceUpload, FileURL: "https://cdn.example.com/ep1.mp4"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatal(err)
	}
	if v.TotalJobs != 1 {
		t.Errorf("view = %+v", v)
	}

	if ok, err := c.CancelBatch(ctx, batchID); err != nil || !ok {
		t.Fatalf("cancel batch: ok=%v err=%v", ok, err)
	}
	n, err := c.RetryBatch(ctx, batchID)
	if err != nil || n != 1 {
		t.Errorf("retry batch: n=%d err=%v", n, err)
	}

	rl, err := c.RateLimit(ctx, "user-1", "pro", policy.PeriodDay)
	if err != nil {
		t.Fatal(err)
	}
	if rl.Used != 2 || !rl.Allowed {
		t.Errorf("rate limit = %+v", rl)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":"storage unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"applied":true}`))
	}))
	t.Cleanup(srv.Close)

	c := client.New(srv.URL,
		client.WithToken("secret"),
		client.WithRetry(3, time.Millisecond),
		client.WithLogger(testLogger()),
	)
	applied, err := c.ReportStatus(context.Background(), id.NewJobID(), job.StateFailed, "boom")
	if err != nil || !applied {
		t.Fatalf("applied=%v err=%v", applied, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"invalid state transition"}`))
	}))
	t.Cleanup(srv.Close)

	c := client.New(srv.URL, client.WithRetry(5, time.Millisecond), client.WithLogger(testLogger()))
	_, err := c.ReportStatus(context.Background(), id.NewJobID(), job.StateCompleted, "")
	if !errors.Is(err, clipqueue.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
