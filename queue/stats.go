package queue

import (
	"context"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
)

// Stats summarises the queue.
type Stats struct {
	Total     int64   `json:"total"`
	Pending   int64   `json:"pending"`
	Running   int64   `json:"running"`
	Completed int64   `json:"completed"`
	Failed    int64   `json:"failed"`
	ErrorRate float64 `json:"error_rate"`
	// CountsByType counts jobs created in the last 24 hours.
	CountsByType map[job.Type]int64 `json:"counts_by_type"`
}

// GetQueueStats counts jobs by status and, for the last day, by type.
// ErrorRate is Failed/Total and zero for an empty queue.
func (m *Manager) GetQueueStats(ctx context.Context) (Stats, error) {
	var s Stats
	counts := map[job.State]*int64{
		job.StatePending:   &s.Pending,
		job.StateRunning:   &s.Running,
		job.StateCompleted: &s.Completed,
		job.StateFailed:    &s.Failed,
	}
	for state, dst := range counts {
		n, err := m.CountJobs(ctx, job.Filter{States: []job.State{state}})
		if err != nil {
			return Stats{}, err
		}
		*dst = n
	}
	s.Total = s.Pending + s.Running + s.Completed + s.Failed
	if s.Total > 0 {
		s.ErrorRate = float64(s.Failed) / float64(s.Total)
	}

	since := m.clock().Add(-24 * time.Hour)
	s.CountsByType = make(map[job.Type]int64, len(job.Types))
	for _, t := range job.Types {
		n, err := m.CountJobs(ctx, job.Filter{Types: []job.Type{t}, CreatedAfter: since})
		if err != nil {
			return Stats{}, err
		}
		s.CountsByType[t] = n
	}
	return s, nil
}

// RateLimitStatus reports an owner's submission budget for one period.
type RateLimitStatus struct {
	Allowed bool `json:"allowed"`
	// Limit is policy.Unlimited for tiers without a ceiling.
	Limit int   `json:"limit"`
	Used  int64 `json:"used"`
	// Remaining is policy.Unlimited for tiers without a ceiling.
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// videoTypes are the job types that count against an owner's video budget.
var videoTypes = []job.Type{job.TypeVideoDownload, job.TypeBatchProcess}

// CheckRateLimit reports whether ownerID on tier may submit another video
// in period. Videos are counted as video_download and batch_process jobs
// created within the trailing window. ResetAt is when the oldest counted
// job leaves the window.
func (m *Manager) CheckRateLimit(ctx context.Context, ownerID, tier string, period policy.Period) (RateLimitStatus, error) {
	if ownerID == "" {
		return RateLimitStatus{}, clipqueue.NewValidationError("owner_id", "must not be empty")
	}
	now := m.clock()
	window := period.Duration()
	limit := policy.RateLimitFor(policy.ParseTier(tier)).Limit(period)
	f := job.Filter{OwnerID: ownerID, Types: videoTypes, CreatedAfter: now.Add(-window)}

	used, err := m.CountJobs(ctx, f)
	if err != nil {
		return RateLimitStatus{}, err
	}
	st := RateLimitStatus{Limit: limit, Used: used, ResetAt: now.Add(window)}
	if used > 0 {
		f.Limit = 1
		oldest, err := m.ListJobs(ctx, f)
		if err != nil {
			return RateLimitStatus{}, err
		}
		if len(oldest) > 0 {
			st.ResetAt = oldest[0].CreatedAt.Add(window)
		}
	}
	if limit == policy.Unlimited {
		st.Allowed = true
		st.Remaining = policy.Unlimited
		return st, nil
	}
	st.Remaining = max(limit-int(used), 0)
	st.Allowed = st.Remaining > 0
	return st, nil
}
