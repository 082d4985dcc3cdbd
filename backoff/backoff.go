// Package backoff computes retry delays for failed job executions. The
// strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry n (1-indexed). Retry 1
	// follows the initial failure.
	Delay(retry int) time.Duration
}

// Kind names a delay curve.
type Kind string

const (
	// KindNone retries immediately.
	KindNone Kind = "none"
	// KindLinear grows the delay by the initial delay on every retry.
	KindLinear Kind = "linear"
	// KindExponential doubles the delay on every retry.
	KindExponential Kind = "exponential"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindNone || k == KindLinear || k == KindExponential
}

// New builds the Strategy for kind. maxDelay of zero leaves the curve
// uncapped.
func New(kind Kind, initial, maxDelay time.Duration) (Strategy, error) {
	switch kind {
	case KindNone:
		return None{}, nil
	case KindLinear:
		return NewLinear(initial, maxDelay), nil
	case KindExponential:
		return NewExponential(initial, maxDelay), nil
	default:
		return nil, fmt.Errorf("backoff: unknown kind %q", kind)
	}
}

// ──────────────────────────────────────────────────
// None
// ──────────────────────────────────────────────────

// None never waits.
type None struct{}

// Delay always returns zero.
func (None) Delay(int) time.Duration { return 0 }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant waits the same interval before every retry.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear waits Initial * retry, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * retry, capped at Max.
func (l *Linear) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	return capped(l.Initial*time.Duration(retry), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential waits Initial * 2^(retry-1), capped at Max. With Jitter set
// the delay is drawn uniformly from [0, that value].
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential creates an exponential strategy without jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewExponentialWithJitter creates an exponential strategy with full jitter,
// which spreads retries that failed together.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay returns the delay before retry.
func (e *Exponential) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(retry-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return time.Duration(base)
}

func capped(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
