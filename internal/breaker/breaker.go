// Package breaker implements the three-state circuit breaker consumed by
// TransportWrapper (spec.md §4.5).
package breaker

import (
	"sync"
	"time"
)

// State is one of closed, open, halfOpen.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "halfOpen"
)

// Breaker is safe for concurrent use; canExecute/onSuccess/onFailure can
// race and are guarded by a mutex.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state               State
	consecutiveFailures int
	openedAt            time.Time
	lastProbeAt         time.Time
	probing             bool

	now func() time.Time
}

// New builds a Breaker that opens after failureThreshold consecutive
// failures and probes once after cooldown elapses.
func New(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
		now:              time.Now,
	}
}

// withClock overrides the breaker's time source; used by tests.
func (b *Breaker) withClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// CanExecute reports whether a call should be admitted, transitioning
// open -> halfOpen when the cooldown has elapsed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		b.lastProbeAt = b.now()
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.probing = true
			b.lastProbeAt = b.now()
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess records a successful call outcome.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = StateClosed
	b.probing = false
}

// OnFailure records a failed call outcome, tripping the breaker once
// failureThreshold consecutive failures have accumulated in closed state,
// or immediately re-opening from halfOpen.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.consecutiveFailures++
		b.probing = false
		return
	case StateOpen:
		b.consecutiveFailures++
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// Snapshot returns the current CircuitBreakerState value (spec.md §3).
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	LastProbeAt         time.Time
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		LastProbeAt:         b.lastProbeAt,
	}
}
