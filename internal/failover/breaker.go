package failover

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the per-provider circuit state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while a provider's cooldown has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker open")

// errTooManyHalfOpenCalls limits probing while half-open.
var errTooManyHalfOpenCalls = errors.New("too many calls in half-open state")

// Breaker is a per-provider circuit breaker. It opens after a run of
// consecutive failures and probes recovery through a half-open state once
// the cooldown elapses.
type Breaker struct {
	threshold        int
	cooldown         time.Duration
	halfOpenMaxCalls int

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	halfOpenCalls int

	// now is injected so tests can drive the cooldown.
	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Breaker{
		threshold:        threshold,
		cooldown:         cooldown,
		halfOpenMaxCalls: 3,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. While open, the breaker moves to
// half-open once the cooldown has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.cooldown {
			b.state = StateHalfOpen
			b.halfOpenCalls = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMaxCalls {
			return errTooManyHalfOpenCalls
		}
		b.halfOpenCalls++
		return nil
	default:
		return ErrCircuitOpen
	}
}

// Record feeds a call outcome back into the state machine.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		// Any success while half-open closes the circuit.
		b.state = StateClosed
		b.failures = 0
		b.halfOpenCalls = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.halfOpenCalls = 0
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// SetClock replaces the breaker's time source. Tests only.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
