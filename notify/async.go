package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/getshortzy/clipqueue"
)

// AsyncOption configures an Async notifier.
type AsyncOption func(*Async)

// WithAsyncLogger sets the logger used for failed deliveries.
func WithAsyncLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) { a.logger = l }
}

// WithAsyncTimeout bounds each delivery to the wrapped notifier.
func WithAsyncTimeout(d time.Duration) AsyncOption {
	return func(a *Async) { a.timeout = d }
}

// WithAsyncBuffer sets the queue size.
func WithAsyncBuffer(n int) AsyncOption {
	return func(a *Async) { a.buffer = n }
}

// Async decouples callers from a Notifier that performs I/O. Notify copies
// the notification into a bounded queue and returns immediately; a single
// goroutine delivers them in order.
type Async struct {
	next    Notifier
	logger  *slog.Logger
	timeout time.Duration
	buffer  int

	mu     sync.RWMutex
	queue  chan Notification
	closed bool
	done   chan struct{}
}

var _ Notifier = (*Async)(nil)

// NewAsync starts delivering to next in the background.
func NewAsync(next Notifier, opts ...AsyncOption) *Async {
	a := &Async{
		next:    next,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		buffer:  1024,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.queue = make(chan Notification, max(a.buffer, 1))
	go a.run()
	return a
}

// Notify queues n. It returns ErrNotifierFull instead of blocking.
func (a *Async) Notify(_ context.Context, n Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return clipqueue.ErrNotifierClosed
	}
	select {
	case a.queue <- n:
		return nil
	default:
		return clipqueue.ErrNotifierFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, n); err != nil {
			a.logger.Warn("notification delivery failed",
				slog.String("job_id", n.JobID),
				slog.String("event", n.Event),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
