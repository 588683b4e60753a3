package transport

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryDecision is the pure result of a RetryPolicy evaluation.
type RetryDecision struct {
	ShouldRetry bool
	DelayMs     uint64
}

// RetryPolicy decides, given the number of attempts already made for a
// packet or a reconnect loop and the most recent error, whether another
// attempt should be made and how long to wait first. Implementations must
// be pure: the same (attempt, err) pair always yields the same decision.
//
// This mirrors the role the teacher's dialOptions.bs (backoff.Strategy)
// plays for addrConn.resetTransport, generalized from a single mutable
// "NextBackOff()" state machine into a pure function so the same policy
// object can be shared, without synchronization, between the packet-retry
// path and the reconnect path.
type RetryPolicy interface {
	Decide(attempt uint32, err error) RetryDecision
}

// ExponentialRetryPolicy is the default RetryPolicy, built around
// github.com/cenkalti/backoff's ExponentialBackOff -- the same dependency
// the teacher's go.mod carries for addrConn's reconnect backoff. Because
// RetryPolicy.Decide must be pure, a fresh ExponentialBackOff is stepped
// forward `attempt` times on every call rather than mutated and reused;
// MaxElapsedTime on that backoff is left at zero (disabled) because the
// spec's own hasOperationTimedOut already owns the "give up" decision.
type ExponentialRetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     uint32
}

// NewExponentialRetryPolicy returns a policy with sensible device-side
// defaults: 500ms initial delay, 2x multiplier, capped at 30s, giving up
// after maxAttempts (0 means unlimited, bounded only by operation timeout).
func NewExponentialRetryPolicy(maxAttempts uint32) *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxAttempts:     maxAttempts,
	}
}

func (p *ExponentialRetryPolicy) Decide(attempt uint32, err error) RetryDecision {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return RetryDecision{ShouldRetry: false}
	}
	var te *TransportError
	if errors.As(err, &te) && !te.IsRetryable() {
		return RetryDecision{ShouldRetry: false}
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.initialInterval(),
		RandomizationFactor: 0,
		Multiplier:          p.multiplier(),
		MaxInterval:         p.maxInterval(),
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	var delay time.Duration
	for i := uint32(0); i < attempt; i++ {
		delay = b.NextBackOff()
	}
	if attempt == 0 {
		delay = b.NextBackOff()
	}
	if delay == backoff.Stop {
		delay = p.maxInterval()
	}
	return RetryDecision{ShouldRetry: true, DelayMs: uint64(delay / time.Millisecond)}
}

func (p *ExponentialRetryPolicy) initialInterval() time.Duration {
	if p.InitialInterval <= 0 {
		return 500 * time.Millisecond
	}
	return p.InitialInterval
}

func (p *ExponentialRetryPolicy) maxInterval() time.Duration {
	if p.MaxInterval <= 0 {
		return 30 * time.Second
	}
	return p.MaxInterval
}

func (p *ExponentialRetryPolicy) multiplier() float64 {
	if p.Multiplier <= 1.0 {
		return 2.0
	}
	return p.Multiplier
}

// FixedRetryPolicy retries a fixed number of times at a constant delay.
// Useful in tests that need a deterministic RetryDecision.
type FixedRetryPolicy struct {
	DelayMs     uint64
	MaxAttempts uint32
}

func (p *FixedRetryPolicy) Decide(attempt uint32, err error) RetryDecision {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return RetryDecision{ShouldRetry: false}
	}
	var te *TransportError
	if errors.As(err, &te) && !te.IsRetryable() {
		return RetryDecision{ShouldRetry: false}
	}
	return RetryDecision{ShouldRetry: true, DelayMs: p.DelayMs}
}
