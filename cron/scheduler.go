package cron

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/getshortzy/clipqueue/id"
)

var (
	// ErrDuplicateEntry is returned when a recurring entry name is taken.
	ErrDuplicateEntry = errors.New("clipqueue: duplicate schedule entry")

	// ErrStopped is returned when work is scheduled after Stop.
	ErrStopped = errors.New("clipqueue: scheduler stopped")
)

// Emitter reports fired entries. ext.Registry satisfies it.
type Emitter interface {
	EmitCronFired(ctx context.Context, name string, err error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithLocker guards every firing with a distributed lock held for lockTTL.
func WithLocker(l Locker, lockTTL time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = l
		if lockTTL > 0 {
			s.lockTTL = lockTTL
		}
	}
}

// WithEmitter reports each firing to e.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type scheduled struct {
	entry Entry
	sched cronlib.Schedule
	task  Task
}

// Scheduler runs recurring maintenance tasks and one-shot deferred work on
// a tick loop. Due entries run sequentially on the tick goroutine.
type Scheduler struct {
	locker  Locker
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration

	mu      sync.Mutex
	entries map[id.ScheduleID]*scheduled
	started bool
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: time.Second,
		lockTTL:      5 * time.Minute,
		entries:      make(map[id.ScheduleID]*scheduled),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a recurring entry. The first run is the schedule's next
// activation after now.
func (s *Scheduler) Register(name, schedule string, task Task) (id.ScheduleID, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return id.Nil, fmt.Errorf("parse schedule %q for %s: %w", schedule, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return id.Nil, ErrStopped
	}
	for _, e := range s.entries {
		if !e.entry.Once && e.entry.Name == name {
			return id.Nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
		}
	}

	e := &scheduled{
		entry: Entry{
			ID:        id.NewScheduleID(),
			Name:      name,
			Schedule:  schedule,
			NextRunAt: sched.Next(s.now().UTC()),
		},
		sched: sched,
		task:  task,
	}
	s.entries[e.entry.ID] = e
	s.logger.Info("schedule registered",
		slog.String("name", name),
		slog.String("schedule", schedule),
		slog.Time("next_run_at", e.entry.NextRunAt),
	)
	return e.entry.ID, nil
}

// At runs fn once at the given time. A time in the past fires on the next
// tick. One-shot entries live in memory only and are lost on restart.
func (s *Scheduler) At(at time.Time, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	e := &scheduled{
		entry: Entry{
			ID:        id.NewScheduleID(),
			Name:      "deferred",
			Once:      true,
			NextRunAt: at.UTC(),
		},
		task: func(ctx context.Context) error {
			fn(ctx)
			return nil
		},
	}
	s.entries[e.entry.ID] = e
	return nil
}

// Remove drops an entry. It reports whether the entry existed.
func (s *Scheduler) Remove(entryID id.ScheduleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[entryID]
	delete(s.entries, entryID)
	return ok
}

// Entries returns a snapshot of all entries ordered by next run.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.entry)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.NextRunAt.Compare(b.NextRunAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return nil
	}
	s.started = true

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("entries", len(s.entries)),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for a running tick to
// finish or ctx to expire. Pending one-shot entries are discarded.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	dropped := 0
	for _, e := range s.entries {
		if e.entry.Once {
			dropped++
		}
	}
	s.mu.Unlock()

	close(s.stopCh)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if dropped > 0 {
		s.logger.Warn("discarded deferred work on shutdown", slog.Int("count", dropped))
	}
	s.logger.Info("cron scheduler stopped")
	return nil
}

// tickLoop fires on each tick interval and runs due entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue runs every entry whose NextRunAt has passed and returns how many
// fired. The tick loop calls it; it is exported for callers that drive
// the scheduler themselves.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*scheduled
	for _, e := range s.entries {
		if !e.entry.NextRunAt.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(due, func(a, b *scheduled) int {
		return a.entry.NextRunAt.Compare(b.entry.NextRunAt)
	})

	fired := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if s.fire(ctx, e, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, e *scheduled, now time.Time) bool {
	if !e.entry.Once && s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, e.entry.Name, s.lockTTL)
		if err != nil {
			s.logger.Error("acquire schedule lock error",
				slog.String("name", e.entry.Name),
				slog.String("error", err.Error()),
			)
			return false
		}
		if !acquired {
			// Another instance runs this firing.
			s.mu.Lock()
			e.entry.NextRunAt = e.sched.Next(now)
			s.mu.Unlock()
			return false
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), e.entry.Name); err != nil {
				s.logger.Error("release schedule lock error",
					slog.String("name", e.entry.Name),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	start := s.now()
	err := s.run(ctx, e)
	s.advance(e, now, err)

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, e.entry.Name, err)
	}
	if err != nil {
		s.logger.Error("scheduled task failed",
			slog.String("name", e.entry.Name),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("scheduled task ran",
			slog.String("name", e.entry.Name),
			slog.Duration("elapsed", s.now().Sub(start)),
		)
	}
	return true
}

// run invokes the task, converting a panic into an error so one broken
// task cannot stop the loop.
func (s *Scheduler) run(ctx context.Context, e *scheduled) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.task(ctx)
}

// advance records a firing and computes the next run. One-shot entries are
// removed.
func (s *Scheduler) advance(e *scheduled, now time.Time, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.entry.Once {
		delete(s.entries, e.entry.ID)
		return
	}
	if _, ok := s.entries[e.entry.ID]; !ok {
		return
	}
	ran := now
	e.entry.LastRunAt = &ran
	e.entry.Runs++
	e.entry.LastError = ""
	if runErr != nil {
		e.entry.LastError = runErr.Error()
	}
	e.entry.NextRunAt = e.sched.Next(now)
}
