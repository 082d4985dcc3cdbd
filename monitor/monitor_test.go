package monitor_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/monitor"
	"github.com/getshortzy/clipqueue/store/memory"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type seeder struct {
	t     *testing.T
	store *memory.Store
}

func newSeeder(t *testing.T) (*seeder, *monitor.Monitor) {
	t.Helper()
	s := &seeder{t: t, store: memory.New()}
	return s, monitor.New(s.store, monitor.WithClock(func() time.Time { return now }))
}

// add creates a job of typ created ago before now, runs it for run and
// leaves it in final.
func (s *seeder) add(typ job.Type, ago, run time.Duration, final job.State) {
	s.t.Helper()
	ctx := context.Background()
	created := now.Add(-ago)
	j := &job.Job{
		Entity:          clipqueue.NewEntity(created),
		ID:              id.NewJobID(),
		Type:            typ,
		State:           job.StatePending,
		OwnerID:         "user-1",
		RelatedEntityID: "project-1",
		Payload:         []byte("{}"),
		Attempt:         1,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		s.t.Fatal(err)
	}
	if final == job.StatePending {
		return
	}
	if _, err := s.store.TransitionJob(ctx, job.Transition{JobID: j.ID, From: job.StatePending, To: job.StateRunning, At: created}); err != nil {
		s.t.Fatal(err)
	}
	if final == job.StateRunning {
		return
	}
	_, err := s.store.TransitionJob(ctx, job.Transition{
		JobID: j.ID, From: job.StateRunning, To: final, Error: "boom", At: created.Add(run),
	})
	if err != nil {
		s.t.Fatal(err)
	}
}

func (s *seeder) addN(n int, typ job.Type, ago, run time.Duration, final job.State) {
	s.t.Helper()
	for range n {
		s.add(typ, ago, run, final)
	}
}

func TestParseWindow(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]monitor.Window{"": monitor.WindowDay, "hour": monitor.WindowHour, "week": monitor.WindowWeek} {
		got, err := monitor.ParseWindow(in)
		if err != nil || got != want {
			t.Errorf("ParseWindow(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := monitor.ParseWindow("month"); !errors.Is(err, clipqueue.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if monitor.WindowWeek.Duration() != 7*24*time.Hour {
		t.Error("week duration")
	}
}

func TestPerformanceSummary(t *testing.T) {
	t.Parallel()
	s, m := newSeeder(t)

	s.add(job.TypeTranscription, 10*time.Minute, 60*time.Second, job.StateCompleted)
	s.add(job.TypeTranscription, 20*time.Minute, 120*time.Second, job.StateCompleted)
	s.add(job.TypeTranscription, 30*time.Minute, 5*time.Second, job.StateFailed)
	// Outside the hour window.
	s.add(job.TypeTranscription, 3*time.Hour, time.Hour, job.StateCompleted)
	s.add(job.TypeVideoDownload, 5*time.Minute, 0, job.StatePending)
	s.add(job.TypeVideoDownload, 5*time.Minute, 0, job.StateRunning)
	s.add(job.TypeVideoDownload, 2*time.Hour, 0, job.StatePending)

	sum, err := m.GetPerformanceSummary(context.Background(), monitor.WindowHour)
	if err != nil {
		t.Fatal(err)
	}
	if got := sum.AvgDuration[job.TypeTranscription]; got != 90*time.Second {
		t.Errorf("transcription avg = %v, want 90s", got)
	}
	if _, ok := sum.AvgDuration[job.TypeVideoDownload]; ok {
		t.Error("type without completed jobs must be omitted")
	}
	if got := sum.ErrorRate[job.TypeTranscription]; math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("transcription error rate = %v, want 1/3", got)
	}
	if got := sum.ErrorRate[job.TypeVideoDownload]; got != 0 {
		t.Errorf("video error rate = %v, want 0", got)
	}
	if _, ok := sum.ErrorRate[job.TypeClipGeneration]; ok {
		t.Error("type without jobs must be omitted")
	}
	if sum.QueueSizes.Pending != 2 || sum.QueueSizes.Running != 1 {
		t.Errorf("queue sizes = %+v", sum.QueueSizes)
	}

	day, err := m.GetPerformanceSummary(context.Background(), monitor.WindowDay)
	if err != nil {
		t.Fatal(err)
	}
	// 60s, 120s and the 1h job completed 2h ago.
	if got, want := day.AvgDuration[job.TypeTranscription], (60*time.Second+120*time.Second+time.Hour)/3; got != want {
		t.Errorf("day avg = %v, want %v", got, want)
	}
}

func TestPerformanceSummary_Pages(t *testing.T) {
	t.Parallel()
	s, m := newSeeder(t)

	s.addN(600, job.TypeAudioExtract, time.Minute, 10*time.Second, job.StateCompleted)
	s.add(job.TypeAudioExtract, time.Minute, 611*time.Second, job.StateCompleted)

	sum, err := m.GetPerformanceSummary(context.Background(), monitor.WindowHour)
	if err != nil {
		t.Fatal(err)
	}
	if got := sum.AvgDuration[job.TypeAudioExtract]; got != 11*time.Second {
		t.Errorf("avg = %v, want 11s", got)
	}
}

func TestIdentifyBottlenecks_SlowTypeOnly(t *testing.T) {
	t.Parallel()
	s, m := newSeeder(t)

	s.addN(2, job.TypeClipGeneration, time.Hour, 310*time.Second, job.StateCompleted)

	got, err := m.IdentifyBottlenecks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("bottlenecks = %+v, want exactly one", got)
	}
	if got[0].Component != job.TypeClipGeneration || got[0].Severity != monitor.SeverityHigh {
		t.Errorf("bottleneck = %+v", got[0])
	}
	if got[0].Description != "clip_generation jobs are taking 310s on average" {
		t.Errorf("description = %q", got[0].Description)
	}
}

func TestIdentifyBottlenecks_DurationAndErrors(t *testing.T) {
	t.Parallel()
	s, m := newSeeder(t)

	s.add(job.TypeViralAnalysis, time.Hour, 150*time.Second, job.StateCompleted)
	s.add(job.TypeViralAnalysis, time.Hour, time.Second, job.StateFailed)
	s.add(job.TypeTranscription, time.Hour, 30*time.Second, job.StateCompleted)

	got, err := m.IdentifyBottlenecks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("bottlenecks = %+v, want 2", got)
	}
	if got[0].Component != job.TypeViralAnalysis || got[0].Severity != monitor.SeverityMedium {
		t.Errorf("duration entry = %+v", got[0])
	}
	if got[1].Component != job.TypeViralAnalysis || got[1].Severity != monitor.SeverityHigh {
		t.Errorf("error entry = %+v", got[1])
	}
	if got[1].Description != "viral_analysis has 50.0% error rate" {
		t.Errorf("description = %q", got[1].Description)
	}
}

func TestIdentifyBottlenecks_None(t *testing.T) {
	t.Parallel()
	_, m := newSeeder(t)

	got, err := m.IdentifyBottlenecks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("bottlenecks = %#v, want empty", got)
	}
}

func TestSystemHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		seed   func(s *seeder)
		status monitor.HealthStatus
		issues []string
	}{
		{
			name:   "empty",
			seed:   func(*seeder) {},
			status: monitor.Healthy,
		},
		{
			name: "queue elevated",
			seed: func(s *seeder) {
				s.addN(501, job.TypeVideoDownload, 2*time.Hour, 0, job.StatePending)
			},
			status: monitor.Degraded,
			issues: []string{monitor.IssueQueueElevated},
		},
		{
			name: "queue critical",
			seed: func(s *seeder) {
				s.addN(1001, job.TypeVideoDownload, 2*time.Hour, 0, job.StatePending)
			},
			status: monitor.Critical,
			issues: []string{monitor.IssueQueueCritical},
		},
		{
			name: "error rate elevated",
			seed: func(s *seeder) {
				s.addN(17, job.TypeTranscription, time.Minute, time.Second, job.StateCompleted)
				s.addN(3, job.TypeTranscription, time.Minute, time.Second, job.StateFailed)
			},
			status: monitor.Degraded,
			issues: []string{monitor.IssueErrorElevated},
		},
		{
			name: "error rate critical",
			seed: func(s *seeder) {
				s.addN(3, job.TypeTranscription, time.Minute, time.Second, job.StateCompleted)
				s.addN(1, job.TypeTranscription, time.Minute, time.Second, job.StateFailed)
			},
			status: monitor.Critical,
			issues: []string{monitor.IssueErrorCritical},
		},
		{
			name: "slow processing",
			seed: func(s *seeder) {
				s.add(job.TypeClipGeneration, 50*time.Minute, 700*time.Second, job.StateCompleted)
			},
			status: monitor.Degraded,
			issues: []string{monitor.IssueProcessingSlow},
		},
		{
			name: "slow processing does not downgrade critical",
			seed: func(s *seeder) {
				s.addN(1001, job.TypeVideoDownload, 2*time.Hour, 0, job.StatePending)
				s.add(job.TypeClipGeneration, 50*time.Minute, 700*time.Second, job.StateCompleted)
			},
			status: monitor.Critical,
			issues: []string{monitor.IssueQueueCritical, monitor.IssueProcessingSlow},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, m := newSeeder(t)
			tt.seed(s)

			h, err := m.GetSystemHealth(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if h.Status != tt.status {
				t.Errorf("status = %s, want %s (issues %v)", h.Status, tt.status, h.Issues)
			}
			if tt.issues == nil {
				tt.issues = []string{}
			}
			if !slices.Equal(h.Issues, tt.issues) {
				t.Errorf("issues = %v, want %v", h.Issues, tt.issues)
			}
		})
	}
}

func TestSystemHealth_Metrics(t *testing.T) {
	t.Parallel()
	s, m := newSeeder(t)

	s.add(job.TypeTranscription, 10*time.Minute, 100*time.Second, job.StateCompleted)
	s.add(job.TypeClipGeneration, 10*time.Minute, 300*time.Second, job.StateCompleted)
	s.add(job.TypeClipGeneration, 10*time.Minute, time.Second, job.StateFailed)
	s.add(job.TypeVideoDownload, 2*time.Hour, 0, job.StatePending)

	h, err := m.GetSystemHealth(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Metrics.QueueSize != 1 {
		t.Errorf("queue size = %d, want 1", h.Metrics.QueueSize)
	}
	// Mean of 0 (transcription) and 0.5 (clips).
	if h.Metrics.ErrorRate != 0.25 {
		t.Errorf("error rate = %v, want 0.25", h.Metrics.ErrorRate)
	}
	if h.Metrics.AvgProcessingTime != 200*time.Second {
		t.Errorf("avg processing = %v, want 200s", h.Metrics.AvgProcessingTime)
	}
	if h.Status != monitor.Critical {
		t.Errorf("status = %s, want critical", h.Status)
	}
}
