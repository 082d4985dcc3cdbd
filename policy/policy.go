// Package policy holds the compiled-in scheduling tables: tier priorities,
// per-type execution limits, per-tier rate limits, and the thresholds the
// monitor grades health against. Every function is pure.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/getshortzy/clipqueue/backoff"
	"github.com/getshortzy/clipqueue/job"
)

// Tier is the caller's subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierBusiness   Tier = "business"
	TierEnterprise Tier = "enterprise"
)

// Tiers lists every tier from lowest to highest.
var Tiers = []Tier{TierFree, TierStarter, TierPro, TierBusiness, TierEnterprise}

// ParseTier maps s to a Tier. Unknown or empty values fall back to
// TierFree; priority is a scheduling hint so a bad tier is never an error.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := basePriority[t]; ok {
		return t
	}
	return TierFree
}

const (
	// MinPriority and MaxPriority bound every computed priority.
	MinPriority = 0
	MaxPriority = 100

	urgentBoost = 25
	clipBoost   = 10
)

var basePriority = map[Tier]int{
	TierFree:       25,
	TierStarter:    50,
	TierPro:        75,
	TierBusiness:   75,
	TierEnterprise: 100,
}

// PriorityFor computes the priority hint for a new job.
func PriorityFor(tier Tier, t job.Type, urgent bool) int {
	p, ok := basePriority[tier]
	if !ok {
		p = basePriority[TierFree]
	}
	if urgent {
		p = min(p+urgentBoost, MaxPriority)
	}
	// Clip generation is user-facing and always boosted.
	if t == job.TypeClipGeneration {
		p = min(p+clipBoost, MaxPriority)
	}
	return ClampPriority(p)
}

// ClampPriority forces p into [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	return max(MinPriority, min(p, MaxPriority))
}

// RetryPolicy describes how a failed execution is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first execution. One means never retry.
	MaxAttempts  int
	Strategy     backoff.Kind
	InitialDelay time.Duration
}

// Backoff returns the delay strategy for p.
func (p RetryPolicy) Backoff() backoff.Strategy {
	s, err := backoff.New(p.Strategy, p.InitialDelay, 0)
	if err != nil {
		return backoff.None{}
	}
	return s
}

// CanRetry reports whether a job on attempt may run again.
func (p RetryPolicy) CanRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Limits is the execution metadata attached to every job of a type.
type Limits struct {
	// Concurrency is the maximum number of jobs of the type running at once.
	Concurrency int
	Timeout     time.Duration
	Retry       RetryPolicy
}

type typePolicy struct {
	event  string
	limits Limits
}

var typePolicies = map[job.Type]typePolicy{
	job.TypeVideoDownload: {"video/download", Limits{
		Concurrency: 5, Timeout: 300 * time.Second,
		Retry: RetryPolicy{MaxAttempts: 3, Strategy: backoff.KindExponential, InitialDelay: time.Second},
	}},
	job.TypeAudioExtract: {"audio/extract", Limits{
		Concurrency: 3, Timeout: 180 * time.Second,
		Retry: RetryPolicy{MaxAttempts: 2, Strategy: backoff.KindExponential, InitialDelay: 2 * time.Second},
	}},
	job.TypeTranscription: {"transcription/process", Limits{
		Concurrency: 2, Timeout: 600 * time.Second,
		Retry: RetryPolicy{MaxAttempts: 2, Strategy: backoff.KindLinear, InitialDelay: 5 * time.Second},
	}},
	job.TypeViralAnalysis: {"viral/analyze", Limits{
		Concurrency: 5, Timeout: 120 * time.Second,
		Retry: RetryPolicy{MaxAttempts: 3, Strategy: backoff.KindExponential, InitialDelay: time.Second},
	}},
	job.TypeClipGeneration: {"clip/generate", Limits{
		Concurrency: 3, Timeout: 300 * time.Second,
		Retry: RetryPolicy{MaxAttempts: 2, Strategy: backoff.KindExponential, InitialDelay: 3 * time.Second},
	}},
	job.TypeBatchProcess: {"batch/process", Limits{
		Concurrency: 2, Timeout: 1800 * time.Second,
		Retry: RetryPolicy{MaxAttempts: 1, Strategy: backoff.KindNone},
	}},
}

func lookup(t job.Type) typePolicy {
	p, ok := typePolicies[t]
	if !ok {
		panic(fmt.Sprintf("policy: no limits for job type %q", t))
	}
	return p
}

// LimitsFor returns the execution limits for t. It panics on a type outside
// the job.Types enumeration.
func LimitsFor(t job.Type) Limits { return lookup(t).limits }

// EventName returns the executor event a job of type t is delivered as.
func EventName(t job.Type) string { return lookup(t).event }
