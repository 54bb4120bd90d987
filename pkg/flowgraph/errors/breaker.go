package errors

import (
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed lets calls through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the recovery window has passed.
	BreakerOpen
	// BreakerHalfOpen lets a single trial call through.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a collaborator after consecutive failures.
//
// After Threshold consecutive failures the breaker opens and Allow reports
// false. Once Recovery has elapsed the next Allow moves it to half-open and
// admits one trial. A success closes it, a failure re-opens it.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	now       func() time.Time

	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
}

// DefaultBreakerThreshold and DefaultBreakerRecovery are the breaker
// settings used when none are given.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerRecovery  = 60 * time.Second
)

// NewCircuitBreaker creates a closed breaker. Non-positive arguments use
// the defaults.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if recovery <= 0 {
		recovery = DefaultBreakerRecovery
	}
	return &CircuitBreaker{
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.recovery {
			return false
		}
		b.state = BreakerHalfOpen
		b.trial = true
		return true
	case BreakerHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return true
	}
}

// Success records a successful call.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.trial = false
}

// Failure records a failed call.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	if b.state == BreakerHalfOpen {
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open()
	}
}

func (b *CircuitBreaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
}

// State returns the current state without transitioning it.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
