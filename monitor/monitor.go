package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/job"
)

// Reader is the read side of the job store. Both job.Store and
// queue.Manager satisfy it.
type Reader interface {
	ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error)
	CountJobs(ctx context.Context, f job.Filter) (int64, error)
}

// Window is a trailing aggregation period.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
	WindowWeek Window = "week"
)

// Duration returns the length of w.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowHour:
		return time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ParseWindow maps s to a Window. An empty string selects WindowDay.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case "":
		return WindowDay, nil
	case WindowHour, WindowDay, WindowWeek:
		return w, nil
	default:
		return "", clipqueue.NewValidationError("window", fmt.Sprintf("unknown window %q", s))
	}
}

// pageSize bounds how many completed jobs are loaded per query.
const pageSize = 500

// Monitor computes performance reports. It is safe for concurrent use.
type Monitor struct {
	reader Reader
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor over r.
func New(r Reader, opts ...Option) *Monitor {
	m := &Monitor{reader: r, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// QueueSizes are instantaneous counts of unfinished jobs.
type QueueSizes struct {
	Pending int64 `json:"pending"`
	Running int64 `json:"running"`
}

// Summary is the performance report for one window.
type Summary struct {
	Window Window `json:"window"`
	// AvgDuration is the mean run time of jobs completed in the window.
	// Types with no completed job are absent.
	AvgDuration map[job.Type]time.Duration `json:"avg_duration"`
	// ErrorRate is failed/created for jobs created in the window. Types
	// with no job are absent.
	ErrorRate  map[job.Type]float64 `json:"error_rate"`
	QueueSizes QueueSizes           `json:"queue_sizes"`
}

// GetPerformanceSummary aggregates the jobs of the trailing window w.
func (m *Monitor) GetPerformanceSummary(ctx context.Context, w Window) (Summary, error) {
	cutoff := m.now().UTC().Add(-w.Duration())
	s := Summary{
		Window:      w,
		AvgDuration: make(map[job.Type]time.Duration),
		ErrorRate:   make(map[job.Type]float64),
	}

	if err := m.averageDurations(ctx, cutoff, s.AvgDuration); err != nil {
		return Summary{}, err
	}

	for _, t := range job.Types {
		total, err := m.reader.CountJobs(ctx, job.Filter{Types: []job.Type{t}, CreatedAfter: cutoff})
		if err != nil {
			return Summary{}, err
		}
		if total == 0 {
			continue
		}
		failed, err := m.reader.CountJobs(ctx, job.Filter{
			Types:        []job.Type{t},
			States:       []job.State{job.StateFailed},
			CreatedAfter: cutoff,
		})
		if err != nil {
			return Summary{}, err
		}
		s.ErrorRate[t] = float64(failed) / float64(total)
	}

	var err error
	if s.QueueSizes.Pending, err = m.reader.CountJobs(ctx, job.Filter{States: []job.State{job.StatePending}}); err != nil {
		return Summary{}, err
	}
	if s.QueueSizes.Running, err = m.reader.CountJobs(ctx, job.Filter{States: []job.State{job.StateRunning}}); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// averageDurations pages through jobs completed since cutoff and stores
// the per-type mean run time in out.
func (m *Monitor) averageDurations(ctx context.Context, cutoff time.Time, out map[job.Type]time.Duration) error {
	type acc struct {
		sum time.Duration
		n   int64
	}
	sums := make(map[job.Type]*acc)
	f := job.Filter{
		States:         []job.State{job.StateCompleted},
		CompletedAfter: cutoff,
		Limit:          pageSize,
	}
	for {
		page, err := m.reader.ListJobs(ctx, f)
		if err != nil {
			return err
		}
		for _, j := range page {
			d, ok := j.Duration()
			if !ok {
				continue
			}
			a := sums[j.Type]
			if a == nil {
				a = &acc{}
				sums[j.Type] = a
			}
			a.sum += d
			a.n++
		}
		if len(page) < pageSize {
			break
		}
		f.Offset += pageSize
	}
	for t, a := range sums {
		out[t] = a.sum / time.Duration(a.n)
	}
	return nil
}
