// Package storetest is the conformance suite every store.Store backend
// runs. Backends call Run from their own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/store"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetMissing", testGetMissing},
		{"TransitionLifecycle", testTransitionLifecycle},
		{"TransitionConflict", testTransitionConflict},
		{"TransitionRace", testTransitionRace},
		{"RetryOfUnique", testRetryOfUnique},
		{"RetryOfRace", testRetryOfRace},
		{"ListFilters", testListFilters},
		{"ListOrderAndPaging", testListOrderAndPaging},
		{"CountJobs", testCountJobs},
		{"DeleteCompletedBefore", testDeleteCompletedBefore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// base is millisecond-aligned so every backend round-trips it exactly.
var base = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// NewJob builds a pending job created at base+offset.
func NewJob(typ job.Type, owner string, offset time.Duration) *job.Job {
	return &job.Job{
		Entity:          clipqueue.NewEntity(base.Add(offset)),
		ID:              id.NewJobID(),
		Type:            typ,
		State:           job.StatePending,
		Priority:        50,
		Tier:            "starter",
		OwnerID:         owner,
		RelatedEntityID: "project-" + owner,
		Payload:         []byte(`{"video_url":"https://cdn.example.com/v.mp4"}`),
		PayloadVersion:  job.PayloadVersion,
		Attempt:         1,
	}
}

func mustCreate(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob(%s): %v", j.ID, err)
		}
	}
}

func mustTransition(t *testing.T, s store.Store, j *job.Job, to job.State, at time.Time, msg string) *job.Job {
	t.Helper()
	got, err := s.TransitionJob(context.Background(), job.Transition{
		JobID: j.ID, From: j.State, To: to, Error: msg, At: at,
	})
	if err != nil {
		t.Fatalf("TransitionJob(%s %s→%s): %v", j.ID, j.State, to, err)
	}
	*j = *got
	return got
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.TypeClipGeneration, "alice", 0)
	j.BatchID = id.NewBatchID()
	j.RetryOf = id.NewJobID()
	j.Attempt = 2
	mustCreate(t, s, j)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	checks := []struct {
		field     string
		got, want any
	}{
		{"ID", got.ID, j.ID},
		{"Type", got.Type, j.Type},
		{"State", got.State, job.StatePending},
		{"Priority", got.Priority, j.Priority},
		{"Tier", got.Tier, j.Tier},
		{"OwnerID", got.OwnerID, j.OwnerID},
		{"RelatedEntityID", got.RelatedEntityID, j.RelatedEntityID},
		{"Payload", string(got.Payload), string(j.Payload)},
		{"PayloadVersion", got.PayloadVersion, j.PayloadVersion},
		{"BatchID", got.BatchID, j.BatchID},
		{"RetryOf", got.RetryOf, j.RetryOf},
		{"Attempt", got.Attempt, 2},
		{"Error", got.Error, ""},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, j.CreatedAt)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Errorf("pending job has timestamps: %v %v", got.StartedAt, got.CompletedAt)
	}

	standalone := NewJob(job.TypeVideoDownload, "bob", 0)
	mustCreate(t, s, standalone)
	got, err = s.GetJob(ctx, standalone.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !got.BatchID.IsNil() || !got.RetryOf.IsNil() {
		t.Errorf("standalone job gained references: batch=%q retry_of=%q", got.BatchID, got.RetryOf)
	}
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	j := NewJob(job.TypeAudioExtract, "alice", 0)
	mustCreate(t, s, j)
	if err := s.CreateJob(context.Background(), j); !errors.Is(err, clipqueue.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, clipqueue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	_, err := s.TransitionJob(context.Background(), job.Transition{
		JobID: id.NewJobID(), From: job.StatePending, To: job.StateRunning, At: base,
	})
	if !errors.Is(err, clipqueue.ErrJobNotFound) {
		t.Fatalf("transition of missing job: expected ErrJobNotFound, got %v", err)
	}
}

func testTransitionLifecycle(t *testing.T, s store.Store) {
	j := NewJob(job.TypeTranscription, "alice", 0)
	mustCreate(t, s, j)

	started := base.Add(time.Minute)
	got := mustTransition(t, s, j, job.StateRunning, started, "")
	if got.State != job.StateRunning {
		t.Fatalf("State = %s", got.State)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt != nil {
		t.Fatalf("CompletedAt set on running job")
	}

	done := started.Add(90 * time.Second)
	mustTransition(t, s, j, job.StateFailed, done, "whisper: out of memory")

	reloaded, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.State != job.StateFailed || reloaded.Error != "whisper: out of memory" {
		t.Fatalf("reloaded = %s %q", reloaded.State, reloaded.Error)
	}
	if reloaded.StartedAt == nil || !reloaded.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", reloaded.StartedAt, started)
	}
	if reloaded.CompletedAt == nil || !reloaded.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", reloaded.CompletedAt, done)
	}
}

func testTransitionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.TypeViralAnalysis, "alice", 0)
	mustCreate(t, s, j)
	mustTransition(t, s, j, job.StateFailed, base.Add(time.Second), job.CancelledByUser)

	_, err := s.TransitionJob(ctx, job.Transition{
		JobID: j.ID, From: job.StatePending, To: job.StateRunning, At: base.Add(2 * time.Second),
	})
	if !errors.Is(err, clipqueue.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateFailed || got.Error != job.CancelledByUser {
		t.Fatalf("losing transition mutated the job: %s %q", got.State, got.Error)
	}
}

func testTransitionRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(job.TypeVideoDownload, "alice", 0)
	mustCreate(t, s, j)

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := job.StateRunning
			if i%2 == 1 {
				to = job.StateFailed
			}
			_, err := s.TransitionJob(ctx, job.Transition{
				JobID: j.ID, From: job.StatePending, To: to, Error: job.CancelledByUser, At: base.Add(time.Second),
			})
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, clipqueue.ErrStateConflict):
			default:
				t.Errorf("racer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins)
	}
}

// retryOf builds the next attempt of src.
func retryOf(src *job.Job, offset time.Duration) *job.Job {
	r := NewJob(src.Type, src.OwnerID, offset)
	r.RetryOf = src.ID
	r.Attempt = src.Attempt + 1
	return r
}

func testRetryOfUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	src := NewJob(job.TypeTranscription, "alice", 0)
	other := NewJob(job.TypeTranscription, "alice", time.Second)
	mustCreate(t, s, src, other)

	first := retryOf(src, 2*time.Second)
	mustCreate(t, s, first)

	if err := s.CreateJob(ctx, retryOf(src, 3*time.Second)); !errors.Is(err, clipqueue.ErrJobAlreadyExists) {
		t.Fatalf("second retry of one source: expected ErrJobAlreadyExists, got %v", err)
	}
	// Chains continue from the newest attempt, and other sources are free.
	mustCreate(t, s, retryOf(first, 4*time.Second), retryOf(other, 5*time.Second))

	n, err := s.CountJobs(ctx, job.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("CountJobs = %d, want 5", n)
	}
}

func testRetryOfRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	src := NewJob(job.TypeVideoDownload, "alice", 0)
	mustCreate(t, s, src)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateJob(ctx, retryOf(src, time.Duration(i+1)*time.Millisecond))
			switch {
			case err == nil:
				mu.Lock()
				created++
				mu.Unlock()
			case errors.Is(err, clipqueue.ErrJobAlreadyExists):
			default:
				t.Errorf("racer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one retry of the source, got %d", created)
	}
}

func testListFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	batch := id.NewBatchID()

	a := NewJob(job.TypeBatchProcess, "alice", 0)
	a.BatchID = batch
	b := NewJob(job.TypeBatchProcess, "alice", time.Minute)
	b.BatchID = batch
	c := NewJob(job.TypeVideoDownload, "alice", 2*time.Minute)
	d := NewJob(job.TypeClipGeneration, "bob", 3*time.Minute)
	mustCreate(t, s, a, b, c, d)

	mustTransition(t, s, a, job.StateRunning, base.Add(10*time.Minute), "")
	mustTransition(t, s, a, job.StateCompleted, base.Add(20*time.Minute), "")
	mustTransition(t, s, d, job.StateRunning, base.Add(10*time.Minute), "")

	tests := []struct {
		name   string
		filter job.Filter
		want   []*job.Job
	}{
		{"all", job.Filter{}, []*job.Job{a, b, c, d}},
		{"by batch", job.Filter{BatchID: batch}, []*job.Job{a, b}},
		{"standalone", job.Filter{Standalone: true}, []*job.Job{c, d}},
		{"by owner", job.Filter{OwnerID: "bob"}, []*job.Job{d}},
		{"by state", job.Filter{States: []job.State{job.StatePending}}, []*job.Job{b, c}},
		{"by states", job.Filter{States: []job.State{job.StateRunning, job.StateCompleted}}, []*job.Job{a, d}},
		{"by type", job.Filter{Types: []job.Type{job.TypeVideoDownload, job.TypeClipGeneration}}, []*job.Job{c, d}},
		{"created after", job.Filter{CreatedAfter: base.Add(time.Minute)}, []*job.Job{b, c, d}},
		{"created before", job.Filter{CreatedBefore: base.Add(time.Minute)}, []*job.Job{a}},
		{"completed after", job.Filter{CompletedAfter: base.Add(15 * time.Minute)}, []*job.Job{a}},
		{"owner standalone pending", job.Filter{OwnerID: "alice", Standalone: true, States: []job.State{job.StatePending}}, []*job.Job{c}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if ids(got) != ids(tt.want) {
				t.Errorf("got %s, want %s", ids(got), ids(tt.want))
			}
		})
	}
}

func testListOrderAndPaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	var all []*job.Job
	for i := range 5 {
		// Insert newest first to catch backends that return insertion order.
		all = append([]*job.Job{NewJob(job.TypeAudioExtract, "alice", time.Duration(5-i)*time.Second)}, all...)
		mustCreate(t, s, all[0])
	}

	got, err := s.ListJobs(ctx, job.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if ids(got) != ids(all) {
		t.Fatalf("order: got %s, want %s", ids(got), ids(all))
	}

	page, err := s.ListJobs(ctx, job.Filter{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if ids(page) != ids(all[1:3]) {
		t.Fatalf("page: got %s, want %s", ids(page), ids(all[1:3]))
	}
}

func testCountJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := []*job.Job{
		NewJob(job.TypeClipGeneration, "alice", 0),
		NewJob(job.TypeClipGeneration, "alice", time.Second),
		NewJob(job.TypeClipGeneration, "alice", 2*time.Second),
		NewJob(job.TypeVideoDownload, "bob", 3*time.Second),
	}
	mustCreate(t, s, jobs...)
	mustTransition(t, s, jobs[0], job.StateRunning, base.Add(time.Minute), "")
	mustTransition(t, s, jobs[0], job.StateCompleted, base.Add(2*time.Minute), "")
	mustTransition(t, s, jobs[1], job.StateRunning, base.Add(time.Minute), "")
	mustTransition(t, s, jobs[1], job.StateFailed, base.Add(2*time.Minute), "encoder crashed")
	mustTransition(t, s, jobs[2], job.StateFailed, base.Add(time.Minute), job.CancelledByUser)

	tests := []struct {
		filter job.Filter
		want   int64
	}{
		{job.Filter{}, 4},
		{job.Filter{States: []job.State{job.StateFailed}}, 2},
		{job.Filter{Types: []job.Type{job.TypeClipGeneration}}, 3},
		{job.Filter{OwnerID: "bob", States: []job.State{job.StatePending}}, 1},
		{job.Filter{CreatedAfter: base.Add(time.Second), CreatedBefore: base.Add(3 * time.Second)}, 2},
	}
	for i, tt := range tests {
		got, err := s.CountJobs(ctx, tt.filter)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if got != tt.want {
			t.Errorf("case %d: count = %d, want %d", i, got, tt.want)
		}
	}
}

func testDeleteCompletedBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	oldDone := NewJob(job.TypeVideoDownload, "alice", 0)
	newDone := NewJob(job.TypeVideoDownload, "alice", 0)
	oldFailed := NewJob(job.TypeVideoDownload, "alice", 0)
	running := NewJob(job.TypeVideoDownload, "alice", 0)
	pending := NewJob(job.TypeVideoDownload, "alice", 0)
	mustCreate(t, s, oldDone, newDone, oldFailed, running, pending)

	mustTransition(t, s, oldDone, job.StateRunning, base.Add(time.Hour), "")
	mustTransition(t, s, oldDone, job.StateCompleted, base.Add(2*time.Hour), "")
	mustTransition(t, s, newDone, job.StateRunning, base.Add(time.Hour), "")
	mustTransition(t, s, newDone, job.StateCompleted, base.Add(48*time.Hour), "")
	mustTransition(t, s, oldFailed, job.StateRunning, base.Add(time.Hour), "")
	mustTransition(t, s, oldFailed, job.StateFailed, base.Add(2*time.Hour), "network unreachable")
	mustTransition(t, s, running, job.StateRunning, base.Add(time.Hour), "")

	n, err := s.DeleteCompletedBefore(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteCompletedBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}

	if _, err := s.GetJob(ctx, oldDone.ID); !errors.Is(err, clipqueue.ErrJobNotFound) {
		t.Errorf("old completed job still present: %v", err)
	}
	for _, keep := range []*job.Job{newDone, oldFailed, running, pending} {
		if _, err := s.GetJob(ctx, keep.ID); err != nil {
			t.Errorf("job %s (%s) was removed: %v", keep.ID, keep.State, err)
		}
	}
}

func ids(jobs []*job.Job) string {
	out := ""
	for i, j := range jobs {
		if i > 0 {
			out += ","
		}
		out += j.ID.String()
	}
	return fmt.Sprintf("[%s]", out)
}
