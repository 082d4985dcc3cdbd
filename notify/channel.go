package notify

import (
	"context"
	"sync"

	"github.com/getshortzy/clipqueue"
)

// Channel is an in-process Notifier backed by a buffered Go channel. Notify
// never blocks: a full buffer returns ErrNotifierFull and the job is left
// for reconciliation.
type Channel struct {
	mu     sync.RWMutex
	ch     chan Notification
	closed bool
}

var (
	_ Notifier = (*Channel)(nil)
	_ Source   = (*Channel)(nil)
)

// NewChannel creates a Channel with the given buffer size.
func NewChannel(buffer int) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{ch: make(chan Notification, buffer)}
}

// Notify enqueues n without blocking.
func (c *Channel) Notify(_ context.Context, n Notification) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return clipqueue.ErrNotifierClosed
	}
	select {
	case c.ch <- n:
		return nil
	default:
		return clipqueue.ErrNotifierFull
	}
}

// Receive blocks for the next notification.
func (c *Channel) Receive(ctx context.Context) (Notification, error) {
	select {
	case n, ok := <-c.ch:
		if !ok {
			return Notification{}, clipqueue.ErrNotifierClosed
		}
		return n, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

// C exposes the receive side for select loops.
func (c *Channel) C() <-chan Notification { return c.ch }

// Len reports how many notifications are buffered.
func (c *Channel) Len() int { return len(c.ch) }

// Close stops accepting notifications. Buffered ones can still be received.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
