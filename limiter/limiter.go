// Package limiter gates in-process execution by the concurrency ceilings of
// each job type and by the per-owner limits of their subscription tier.
//
//	l := limiter.New()
//	if l.Acquire(j) {
//	    defer l.Release(j)
//	    // run the job
//	}
//
// Type ceilings come from policy.LimitsFor. Owner limits come from
// policy.RateLimitFor(tier): a concurrent-jobs cap on every job and a
// videos-per-hour token bucket (golang.org/x/time/rate) charged only for
// jobs that bring a new video into the pipeline.
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
)

// typeState tracks running jobs of one type.
type typeState struct {
	max    int
	active int
}

// ownerState tracks one owner's running jobs and hourly video budget.
type ownerState struct {
	tier          policy.Tier
	limiter       *rate.Limiter
	maxConcurrent int
	active        int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithTypeConcurrency overrides the ceiling of one job type. Zero removes
// the ceiling.
func WithTypeConcurrency(t job.Type, n int) Option {
	return func(l *Limiter) { l.types[t] = &typeState{max: n} }
}

// WithoutOwnerLimits disables tier enforcement, leaving only type ceilings.
func WithoutOwnerLimits() Option {
	return func(l *Limiter) { l.ownerLimits = false }
}

// WithClock overrides the time source of the hourly budgets.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// sweepEvery is how often Release scans every owner for idle state.
const sweepEvery = time.Minute

// Limiter is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	types       map[job.Type]*typeState
	owners      map[string]*ownerState
	ownerLimits bool
	now         func() time.Time
	lastSweep   time.Time
}

// New creates a Limiter seeded with the policy ceilings of every job type.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		types:       make(map[job.Type]*typeState, len(job.Types)),
		owners:      make(map[string]*ownerState),
		ownerLimits: true,
		now:         time.Now,
	}
	for _, t := range job.Types {
		l.types[t] = &typeState{max: policy.LimitsFor(t).Concurrency}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// countsAsVideo reports whether j admits a new video, which is what the
// hourly budget meters.
func countsAsVideo(j *job.Job) bool {
	return j.Type == job.TypeVideoDownload || j.Type == job.TypeBatchProcess
}

func newOwnerState(tier policy.Tier) *ownerState {
	rl := policy.RateLimitFor(tier)
	os := &ownerState{tier: tier, maxConcurrent: rl.ConcurrentJobs}
	if rl.VideosPerHour > 0 {
		os.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(rl.VideosPerHour)), rl.VideosPerHour)
	}
	return os
}

// owner returns the state for j's owner, rebuilding it if the tier changed.
// The caller holds l.mu.
func (l *Limiter) owner(j *job.Job) *ownerState {
	tier := policy.ParseTier(j.Tier)
	os := l.owners[j.OwnerID]
	if os == nil || os.tier != tier {
		next := newOwnerState(tier)
		if os != nil {
			next.active = os.active
		}
		l.owners[j.OwnerID] = next
		os = next
	}
	return os
}

// Acquire reserves a slot for j. It returns false, without side effects,
// when any limit is exhausted. A true result must be paired with Release.
func (l *Limiter) Acquire(j *job.Job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[j.Type]
	if ts != nil && ts.max > 0 && ts.active >= ts.max {
		return false
	}

	var os *ownerState
	if l.ownerLimits && j.OwnerID != "" {
		os = l.owner(j)
		if os.maxConcurrent > 0 && os.active >= os.maxConcurrent {
			return false
		}
		// Charge the budget last so a refusal above never spends a token.
		if os.limiter != nil && countsAsVideo(j) && !os.limiter.AllowN(l.now(), 1) {
			return false
		}
		os.active++
	}
	if ts != nil {
		ts.active++
	}
	return true
}

// Release frees the slot taken by a successful Acquire.
func (l *Limiter) Release(j *job.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts := l.types[j.Type]; ts != nil && ts.active > 0 {
		ts.active--
	}
	if os := l.owners[j.OwnerID]; os != nil && os.active > 0 {
		os.active--
	}

	now := l.now()
	if os := l.owners[j.OwnerID]; os != nil && os.idle(now) {
		delete(l.owners, j.OwnerID)
	}
	if now.Sub(l.lastSweep) >= sweepEvery {
		l.lastSweep = now
		l.sweep(now)
	}
}

// idle reports whether the state carries nothing a fresh one would not:
// no running jobs and a full hourly budget.
func (os *ownerState) idle(now time.Time) bool {
	if os.active > 0 {
		return false
	}
	return os.limiter == nil || os.limiter.TokensAt(now) >= float64(os.limiter.Burst())
}

// sweep drops idle owners. The caller holds l.mu.
func (l *Limiter) sweep(now time.Time) int {
	var n int
	for owner, os := range l.owners {
		if os.idle(now) {
			delete(l.owners, owner)
			n++
		}
	}
	return n
}

// Prune drops the state of owners with no running jobs and a refilled
// budget, returning how many were dropped. Release already prunes
// periodically.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweep(l.now())
}

// Owners returns how many owners the limiter tracks.
func (l *Limiter) Owners() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.owners)
}

// SetTypeConcurrency changes the ceiling of a job type at runtime,
// preserving the running count.
func (l *Limiter) SetTypeConcurrency(t job.Type, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[t]; ts != nil {
		ts.max = n
		return
	}
	l.types[t] = &typeState{max: n}
}

// ActiveCount returns how many jobs of type t hold a slot.
func (l *Limiter) ActiveCount(t job.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[t]; ts != nil {
		return ts.active
	}
	return 0
}

// OwnerActiveCount returns how many of owner's jobs hold a slot.
func (l *Limiter) OwnerActiveCount(owner string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if os := l.owners[owner]; os != nil {
		return os.active
	}
	return 0
}
