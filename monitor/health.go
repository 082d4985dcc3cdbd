package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
)

// HealthStatus is the overall verdict.
type HealthStatus string

const (
	Healthy  HealthStatus = "healthy"
	Degraded HealthStatus = "degraded"
	Critical HealthStatus = "critical"
)

func (s HealthStatus) rank() int {
	switch s {
	case Critical:
		return 2
	case Degraded:
		return 1
	default:
		return 0
	}
}

// escalate returns the more severe of s and to.
func (s HealthStatus) escalate(to HealthStatus) HealthStatus {
	if to.rank() > s.rank() {
		return to
	}
	return s
}

// Health issue messages.
const (
	IssueQueueCritical  = "queue size critically high"
	IssueQueueElevated  = "queue size elevated"
	IssueErrorCritical  = "error rate critically high"
	IssueErrorElevated  = "error rate elevated"
	IssueProcessingSlow = "average processing time too high"
)

// HealthMetrics are the values a health verdict was derived from.
type HealthMetrics struct {
	QueueSize         int64         `json:"queue_size"`
	ErrorRate         float64       `json:"error_rate"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
}

// Health is the system health report.
type Health struct {
	Status  HealthStatus  `json:"status"`
	Issues  []string      `json:"issues"`
	Metrics HealthMetrics `json:"metrics"`
}

// GetSystemHealth grades the hourly summary against
// policy.HealthThresholds. Severity only ever rises within one evaluation.
func (m *Monitor) GetSystemHealth(ctx context.Context) (Health, error) {
	s, err := m.GetPerformanceSummary(ctx, WindowHour)
	if err != nil {
		return Health{}, err
	}
	h := Health{
		Status: Healthy,
		Issues: []string{},
		Metrics: HealthMetrics{
			QueueSize:         s.QueueSizes.Pending,
			ErrorRate:         meanRate(s.ErrorRate),
			AvgProcessingTime: meanDuration(s.AvgDuration),
		},
	}
	th := policy.HealthThresholds

	switch {
	case h.Metrics.QueueSize > th.Critical.QueueSize:
		h.Issues = append(h.Issues, IssueQueueCritical)
		h.Status = h.Status.escalate(Critical)
	case h.Metrics.QueueSize > th.Warning.QueueSize:
		h.Issues = append(h.Issues, IssueQueueElevated)
		h.Status = h.Status.escalate(Degraded)
	}

	switch {
	case h.Metrics.ErrorRate > th.Critical.ErrorRate:
		h.Issues = append(h.Issues, IssueErrorCritical)
		h.Status = h.Status.escalate(Critical)
	case h.Metrics.ErrorRate > th.Warning.ErrorRate:
		h.Issues = append(h.Issues, IssueErrorElevated)
		h.Status = h.Status.escalate(Degraded)
	}

	if h.Metrics.AvgProcessingTime > th.MaxProcessingTime {
		h.Issues = append(h.Issues, IssueProcessingSlow)
		h.Status = h.Status.escalate(Degraded)
	}

	if h.Status != Healthy {
		m.logger.Warn("system health degraded",
			slog.String("status", string(h.Status)),
			slog.Any("issues", h.Issues),
		)
	}
	return h, nil
}

func meanRate(rates map[job.Type]float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rates {
		sum += r
	}
	return sum / float64(len(rates))
}

func meanDuration(ds map[job.Type]time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

// Severity grades a bottleneck.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Bottleneck flags one job type.
type Bottleneck struct {
	Component      job.Type `json:"component"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// IdentifyBottlenecks grades the daily summary against
// policy.BottleneckThresholds. Duration and error rate are judged
// independently, so a type may be reported twice. Entries follow
// job.Types order, durations first.
func (m *Monitor) IdentifyBottlenecks(ctx context.Context) ([]Bottleneck, error) {
	s, err := m.GetPerformanceSummary(ctx, WindowDay)
	if err != nil {
		return nil, err
	}
	th := policy.BottleneckThresholds
	out := []Bottleneck{}

	for _, t := range job.Types {
		d, ok := s.AvgDuration[t]
		if !ok {
			continue
		}
		desc := fmt.Sprintf("%s jobs are taking %.0fs on average", t, math.Round(d.Seconds()))
		switch {
		case d > th.HighDuration:
			out = append(out, Bottleneck{
				Component:      t,
				Severity:       SeverityHigh,
				Description:    desc,
				Recommendation: "Consider optimizing the processing pipeline or adding more workers",
			})
		case d > th.MediumDuration:
			out = append(out, Bottleneck{
				Component:      t,
				Severity:       SeverityMedium,
				Description:    desc,
				Recommendation: "Monitor performance and consider optimization",
			})
		}
	}

	for _, t := range job.Types {
		rate, ok := s.ErrorRate[t]
		if !ok || rate <= th.ErrorRate {
			continue
		}
		out = append(out, Bottleneck{
			Component:      t,
			Severity:       SeverityHigh,
			Description:    fmt.Sprintf("%s has %.1f%% error rate", t, rate*100),
			Recommendation: "Investigate error logs and implement fixes",
		})
	}
	return out, nil
}
