package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/notify"
)

// Limiter gates job execution on concurrency and rate limits. The pool
// calls Acquire before running a job and Release afterwards.
// limiter.Limiter implements it.
type Limiter interface {
	Acquire(j *job.Job) bool
	Release(j *job.Job)
}

// Pool runs concurrent worker goroutines that receive notifications from a
// Source and execute them through the Executor.
type Pool struct {
	source      notify.Source
	executor    *Executor
	limiter     Limiter
	concurrency int
	backoff     time.Duration
	workerID    id.WorkerID
	logger      *slog.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[id.JobID]context.CancelFunc
	activeMu   sync.Mutex

	// parked holds jobs the limiter refused. Workers retry them before
	// receiving more notifications.
	parked   []*job.Job
	parkedMu sync.Mutex
}

// maxParked bounds the parked list. Jobs refused beyond it stay pending in
// the store until reconciliation resends them.
const maxParked = 1024

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLimiter gates execution through l.
func WithLimiter(l Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithLimitBackoff sets how often idle workers retry parked jobs, and how
// long a worker waits after a receive error.
func WithLimitBackoff(d time.Duration) PoolOption {
	return func(p *Pool) { p.backoff = d }
}

// NewPool creates a worker pool.
func NewPool(source notify.Source, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		source:      source,
		executor:    executor,
		concurrency: 4,
		backoff:     time.Second,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		stopCh:      make(chan struct{}),
		activeJobs:  make(map[id.JobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.receiveLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. When ctx
// expires first, active jobs are cancelled. Retries still waiting for
// their backoff are enqueued immediately.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}

	p.executor.FlushRetries()
	if n := p.Parked(); n > 0 {
		p.logger.Info("throttled jobs left pending", slog.Int("count", n))
	}
	return nil
}

// receiveLoop is run by each worker goroutine.
func (p *Pool) receiveLoop() {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if j := p.unpark(); j != nil {
			p.execute(j)
			continue
		}

		n, err := p.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errReceiveWindow) {
				continue
			}
			p.logger.Error("receive error", slog.String("error", err.Error()))
			if !p.sleep() {
				return
			}
			continue
		}

		j, err := n.Job()
		if err != nil {
			p.logger.Warn("dropping malformed notification",
				slog.String("job_id", n.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if p.limiter != nil && !p.limiter.Acquire(j) {
			p.park(j)
			continue
		}
		p.execute(j)
	}
}

var errReceiveWindow = errors.New("receive window elapsed")

// receive waits for the next notification. While jobs are parked the wait
// is bounded by the backoff so the worker gets back to them.
func (p *Pool) receive(ctx context.Context) (notify.Notification, error) {
	if p.Parked() == 0 {
		return p.source.Receive(ctx)
	}
	rctx, cancel := context.WithTimeout(ctx, p.backoff)
	defer cancel()
	n, err := p.source.Receive(rctx)
	if err != nil && ctx.Err() == nil && rctx.Err() != nil {
		return n, errReceiveWindow
	}
	return n, err
}

// park sets j aside after a limiter refusal.
func (p *Pool) park(j *job.Job) {
	attrs := []any{
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.String("owner_id", j.OwnerID),
	}
	p.parkedMu.Lock()
	defer p.parkedMu.Unlock()
	if len(p.parked) >= maxParked {
		p.logger.Debug("job throttled, left pending", attrs...)
		return
	}
	p.parked = append(p.parked, j)
	p.logger.Debug("job throttled, parked", attrs...)
}

// unpark returns the oldest parked job the limiter now admits, with its
// slot already acquired, or nil.
func (p *Pool) unpark() *job.Job {
	p.parkedMu.Lock()
	defer p.parkedMu.Unlock()
	for i, j := range p.parked {
		if p.limiter.Acquire(j) {
			p.parked = append(p.parked[:i], p.parked[i+1:]...)
			return j
		}
	}
	return nil
}

// Parked returns how many throttled jobs wait for a limiter slot.
func (p *Pool) Parked() int {
	p.parkedMu.Lock()
	defer p.parkedMu.Unlock()
	return len(p.parked)
}

// execute runs j and gives its limiter slot back.
func (p *Pool) execute(j *job.Job) {
	p.run(j)
	if p.limiter != nil {
		p.limiter.Release(j)
	}
}

func (p *Pool) run(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.trackJob(j.ID, cancel)
	defer p.untrackJob(j.ID)

	if err := p.executor.Execute(ctx, j); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for the backoff period. It returns false if the pool stops.
func (p *Pool) sleep() bool {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.stopCh:
		return false
	}
}

func (p *Pool) trackJob(jobID id.JobID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

// ActiveJobs returns how many jobs are executing.
func (p *Pool) ActiveJobs() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID.String()))
		cancel()
	}
}
