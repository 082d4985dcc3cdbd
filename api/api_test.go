package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/getshortzy/clipqueue/api"
	"github.com/getshortzy/clipqueue/batch"
	"github.com/getshortzy/clipqueue/engine"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/monitor"
	"github.com/getshortzy/clipqueue/queue"
	"github.com/getshortzy/clipqueue/store/memory"
)

func newServer(t *testing.T) (*engine.Engine, *echo.Echo) {
	t.Helper()
	eng, err := engine.Build(memory.New())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng, api.New(eng).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type jobIDBody struct {
	JobID string `json:"job_id"`
}

func submitJob(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/jobs", map[string]any{
		"type":              "video_download",
		"owner_id":          "user-1",
		"related_entity_id": "project-1",
		"payload":           map[string]string{"video_url": "https://cdn.example.com/a.mp4"},
		"tier":              "pro",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /v1/jobs = %d %s", rec.Code, rec.Body.String())
	}
	return decode[jobIDBody](t, rec).JobID
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	_, h := newServer(t)
	rec := do(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	_, h := newServer(t)
	jobID := submitJob(t, h)

	rec := do(t, h, http.MethodGet, "/v1/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET job = %d", rec.Code)
	}
	st := decode[queue.JobStatus](t, rec)
	if st.Status != job.StatePending || st.OwnerID != "user-1" {
		t.Errorf("status = %+v", st)
	}

	for _, step := range []struct {
		status  job.State
		errMsg  string
		applied bool
	}{
		{job.StateRunning, "", true},
		{job.StateRunning, "", false},
		{job.StateFailed, "encoder crashed", true},
	} {
		rec = do(t, h, http.MethodPost, "/v1/callbacks/status", map[string]any{
			"job_id": jobID,
			"status": step.status,
			"error":  step.errMsg,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("callback %s = %d %s", step.status, rec.Code, rec.Body.String())
		}
		if got := decode[map[string]bool](t, rec)["applied"]; got != step.applied {
			t.Errorf("callback %s applied = %v, want %v", step.status, got, step.applied)
		}
	}

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/retry", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("retry = %d %s", rec.Code, rec.Body.String())
	}
	retried := decode[map[string]any](t, rec)
	if retried["ok"] != true || retried["new_job_id"] == "" {
		t.Errorf("retry body = %v", retried)
	}

	rec = do(t, h, http.MethodGet, "/v1/queue/stats", nil)
	stats := decode[queue.Stats](t, rec)
	if stats.Total != 2 || stats.Failed != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	_, h := newServer(t)
	jobID := submitJob(t, h)

	rec := do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	if !decode[map[string]bool](t, rec)["ok"] {
		t.Fatalf("cancel = %s", rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	if rec.Code != http.StatusOK || decode[map[string]bool](t, rec)["ok"] {
		t.Errorf("second cancel = %d %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	_, h := newServer(t)
	jobID := submitJob(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown type", http.MethodPost, "/v1/jobs", map[string]any{
			"type": "upscale", "owner_id": "u", "related_entity_id": "p",
		}, http.StatusBadRequest},
		{"missing owner", http.MethodPost, "/v1/jobs", map[string]any{
			"type": "transcription", "related_entity_id": "p",
		}, http.StatusBadRequest},
		{"malformed id", http.MethodGet, "/v1/jobs/not-an-id", nil, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/v1/jobs/job_01h455vb4pex5vsknk084sn02q", nil, http.StatusNotFound},
		{"callback unknown job", http.MethodPost, "/v1/callbacks/status", map[string]any{
			"job_id": "job_01h455vb4pex5vsknk084sn02q", "status": "running",
		}, http.StatusNotFound},
		{"forbidden transition", http.MethodPost, "/v1/callbacks/status", map[string]any{
			"job_id": jobID, "status": "completed",
		}, http.StatusConflict},
		{"failed before running", http.MethodPost, "/v1/callbacks/status", map[string]any{
			"job_id": jobID, "status": "failed", "error": "boom",
		}, http.StatusConflict},
		{"callback bad status", http.MethodPost, "/v1/callbacks/status", map[string]any{
			"job_id": jobID, "status": "exploded",
		}, http.StatusBadRequest},
		{"bad window", http.MethodGet, "/v1/monitor/summary?window=month", nil, http.StatusBadRequest},
		{"bad period", http.MethodGet, "/v1/owners/user-1/rate-limit?period=week", nil, http.StatusBadRequest},
		{"unknown batch", http.MethodGet, "/v1/batches/batch_01h455vb4pex5vsknk084sn02q", nil, http.StatusNotFound},
		{"empty batch", http.MethodPost, "/v1/batches", map[string]any{"owner_id": "u"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	_, h := newServer(t)
	submitJob(t, h)

	rec := do(t, h, http.MethodGet, "/v1/owners/user-1/rate-limit?tier=free&period=hour", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rate-limit = %d %s", rec.Code, rec.Body.String())
	}
	st := decode[queue.RateLimitStatus](t, rec)
	if st.Used != 1 {
		t.Errorf("used = %d, want 1", st.Used)
	}
}

func TestBatchLifecycle(t *testing.T) {
	t.Parallel()
	_, h := newServer(t)

	rec := do(t, h, http.MethodPost, "/v1/batches", map[string]any{
		"owner_id": "user-1",
		"tier":     "business",
		"videos": []batch.VideoSpec{
			{Name: "intro", SourceType: batch.SourceUpload, FileURL: "https://cdn.example.com/intro.mp4", Preset: "viral", Platform: "tiktok"},
			{Name: "talk", SourceType: batch.SourceYouTube, SourceURL: "https://youtube.com/watch?v=x", Preset: "viral", Platform: "shorts"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /v1/batches = %d %s", rec.Code, rec.Body.String())
	}
	batchID := decode[map[string]string](t, rec)["batch_id"]

	rec = do(t, h, http.MethodGet, "/v1/batches/"+batchID, nil)
	view := decode[batch.View](t, rec)
	if view.TotalJobs != 2 || view.Status != batch.StatusPending || view.Progress != 0 {
		t.Errorf("view = %+v", view)
	}

	rec = do(t, h, http.MethodPost, "/v1/batches/"+batchID+"/cancel", nil)
	if !decode[map[string]bool](t, rec)["ok"] {
		t.Fatalf("cancel batch = %s", rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/v1/batches/"+batchID, nil)
	if view = decode[batch.View](t, rec); view.Status != batch.StatusFailed || view.FailedJobs != 2 {
		t.Errorf("after cancel = %+v", view)
	}

	rec = do(t, h, http.MethodPost, "/v1/batches/"+batchID+"/retry", nil)
	if n := decode[map[string]int](t, rec)["retried"]; n != 2 {
		t.Errorf("retried = %d, want 2", n)
	}
}

func TestScheduledBatch(t *testing.T) {
	t.Parallel()
	eng, h := newServer(t)

	at := time.Now().Add(time.Hour).UTC()
	rec := do(t, h, http.MethodPost, "/v1/batches", map[string]any{
		"owner_id":      "user-1",
		"scheduled_for": at,
		"videos": []batch.VideoSpec{
			{Name: "later", SourceType: batch.SourceUpload, FileURL: "https://cdn.example.com/later.mp4"},
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("scheduled batch = %d %s", rec.Code, rec.Body.String())
	}
	batchID := decode[map[string]string](t, rec)["batch_id"]

	rec = do(t, h, http.MethodGet, "/v1/batches/"+batchID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("deferred batch visible early: %d", rec.Code)
	}
	if n := len(eng.Scheduler().Entries()); n == 0 {
		t.Error("no deferred entry registered")
	}
}

func TestRecommendations(t *testing.T) {
	t.Parallel()
	_, h := newServer(t)
	rec := do(t, h, http.MethodGet, "/v1/owners/user-1/recommendations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recommendations = %d", rec.Code)
	}
	if r := decode[batch.Recommendation](t, rec); r.RecommendBatch {
		t.Errorf("recommended batching with no pending work: %+v", r)
	}
}

func TestMonitorEndpoints(t *testing.T) {
	t.Parallel()
	_, h := newServer(t)
	submitJob(t, h)

	rec := do(t, h, http.MethodGet, "/v1/monitor/summary?window=hour", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary = %d", rec.Code)
	}
	sum := decode[monitor.Summary](t, rec)
	if sum.Window != monitor.WindowHour || sum.QueueSizes.Pending != 1 {
		t.Errorf("summary = %+v", sum)
	}

	rec = do(t, h, http.MethodGet, "/v1/monitor/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if hl := decode[monitor.Health](t, rec); hl.Status != monitor.Healthy {
		t.Errorf("health = %+v", hl)
	}

	rec = do(t, h, http.MethodGet, "/v1/monitor/bottlenecks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bottlenecks = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/monitor/counters", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("counters = %d", rec.Code)
	}
	if got := decode[map[string]float64](t, rec)["job_enqueued"]; got != 1 {
		t.Errorf("job_enqueued = %v, want 1", got)
	}
}
