package policy_test

import (
	"testing"
	"time"

	"github.com/getshortzy/clipqueue/backoff"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
)

func TestPriorityFor_Table(t *testing.T) {
	tests := []struct {
		tier   policy.Tier
		typ    job.Type
		urgent bool
		want   int
	}{
		{policy.TierFree, job.TypeVideoDownload, false, 25},
		{policy.TierFree, job.TypeVideoDownload, true, 50},
		{policy.TierFree, job.TypeClipGeneration, false, 35},
		{policy.TierFree, job.TypeClipGeneration, true, 60},
		{policy.TierStarter, job.TypeTranscription, false, 50},
		{policy.TierPro, job.TypeViralAnalysis, false, 75},
		{policy.TierBusiness, job.TypeClipGeneration, true, 100},
		{policy.TierEnterprise, job.TypeBatchProcess, false, 100},
		{policy.TierEnterprise, job.TypeClipGeneration, true, 100},
		{policy.Tier("platinum"), job.TypeAudioExtract, false, 25},
	}

	for _, tt := range tests {
		if got := policy.PriorityFor(tt.tier, tt.typ, tt.urgent); got != tt.want {
			t.Errorf("PriorityFor(%s, %s, %v) = %d, want %d", tt.tier, tt.typ, tt.urgent, got, tt.want)
		}
	}
}

func TestPriorityFor_UrgentNeverLower(t *testing.T) {
	tiers := append([]policy.Tier{"", "unknown"}, policy.Tiers...)
	for _, tier := range tiers {
		for _, typ := range job.Types {
			normal := policy.PriorityFor(tier, typ, false)
			urgent := policy.PriorityFor(tier, typ, true)
			if normal > urgent {
				t.Errorf("%s/%s: normal %d > urgent %d", tier, typ, normal, urgent)
			}
			for _, p := range []int{normal, urgent} {
				if p < policy.MinPriority || p > policy.MaxPriority {
					t.Errorf("%s/%s: priority %d out of range", tier, typ, p)
				}
			}
		}
	}
}

func TestParseTier(t *testing.T) {
	tests := map[string]policy.Tier{
		"pro":        policy.TierPro,
		" Business ": policy.TierBusiness,
		"ENTERPRISE": policy.TierEnterprise,
		"":           policy.TierFree,
		"gold":       policy.TierFree,
	}
	for in, want := range tests {
		if got := policy.ParseTier(in); got != want {
			t.Errorf("ParseTier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLimitsFor_CoversEveryType(t *testing.T) {
	for _, typ := range job.Types {
		l := policy.LimitsFor(typ)
		if l.Concurrency <= 0 {
			t.Errorf("%s: concurrency %d", typ, l.Concurrency)
		}
		if l.Timeout <= 0 {
			t.Errorf("%s: timeout %v", typ, l.Timeout)
		}
		if l.Retry.MaxAttempts < 1 {
			t.Errorf("%s: max attempts %d", typ, l.Retry.MaxAttempts)
		}
		if policy.EventName(typ) == "" {
			t.Errorf("%s: empty event name", typ)
		}
	}
}

func TestLimitsFor_Values(t *testing.T) {
	l := policy.LimitsFor(job.TypeTranscription)
	if l.Concurrency != 2 || l.Timeout != 600*time.Second {
		t.Errorf("transcription limits = %+v", l)
	}
	if l.Retry.Strategy != backoff.KindLinear || l.Retry.InitialDelay != 5*time.Second {
		t.Errorf("transcription retry = %+v", l.Retry)
	}

	b := policy.LimitsFor(job.TypeBatchProcess)
	if b.Retry.MaxAttempts != 1 || b.Retry.CanRetry(1) {
		t.Errorf("batch jobs must not retry: %+v", b.Retry)
	}
	if got := policy.EventName(job.TypeClipGeneration); got != "clip/generate" {
		t.Errorf("EventName(clip_generation) = %q", got)
	}
}

func TestLimitsFor_PanicsOnUnknownType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	policy.LimitsFor(job.Type("render_subtitles"))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := policy.LimitsFor(job.TypeVideoDownload).Retry
	s := p.Backoff()
	if got := s.Delay(2); got != 2*time.Second {
		t.Errorf("download Delay(2) = %v, want 2s", got)
	}
	if !p.CanRetry(2) || p.CanRetry(3) {
		t.Error("download allows exactly three attempts")
	}
}

func TestRateLimitFor(t *testing.T) {
	if got := policy.RateLimitFor(policy.TierStarter); got.VideosPerHour != 10 || got.VideosPerDay != 50 || got.ConcurrentJobs != 2 {
		t.Errorf("starter = %+v", got)
	}
	ent := policy.RateLimitFor(policy.TierEnterprise)
	if ent.Limit(policy.PeriodHour) != policy.Unlimited || ent.Limit(policy.PeriodDay) != policy.Unlimited {
		t.Errorf("enterprise should be unlimited: %+v", ent)
	}
	if got := policy.RateLimitFor("nope"); got != policy.RateLimitFor(policy.TierFree) {
		t.Errorf("unknown tier = %+v", got)
	}
	if policy.PeriodDay.Duration() != 24*time.Hour || policy.PeriodHour.Duration() != time.Hour {
		t.Error("period durations")
	}
}
