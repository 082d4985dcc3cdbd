package policy

import "time"

// Unlimited marks a rate limit with no ceiling.
const Unlimited = -1

// RateLimit caps how much work an owner on a tier may submit.
type RateLimit struct {
	VideosPerHour  int
	VideosPerDay   int
	ConcurrentJobs int
}

var rateLimits = map[Tier]RateLimit{
	TierFree:       {VideosPerHour: 3, VideosPerDay: 10, ConcurrentJobs: 1},
	TierStarter:    {VideosPerHour: 10, VideosPerDay: 50, ConcurrentJobs: 2},
	TierPro:        {VideosPerHour: 50, VideosPerDay: 200, ConcurrentJobs: 5},
	TierBusiness:   {VideosPerHour: 200, VideosPerDay: 1000, ConcurrentJobs: 10},
	TierEnterprise: {VideosPerHour: Unlimited, VideosPerDay: Unlimited, ConcurrentJobs: 20},
}

// RateLimitFor returns the limits for tier, falling back to TierFree.
func RateLimitFor(tier Tier) RateLimit {
	if rl, ok := rateLimits[tier]; ok {
		return rl
	}
	return rateLimits[TierFree]
}

// Period is a rate-limit accounting window.
type Period string

const (
	PeriodHour Period = "hour"
	PeriodDay  Period = "day"
)

// Duration returns the window length.
func (p Period) Duration() time.Duration {
	if p == PeriodDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// Limit returns the ceiling of rl for p.
func (rl RateLimit) Limit(p Period) int {
	if p == PeriodDay {
		return rl.VideosPerDay
	}
	return rl.VideosPerHour
}
