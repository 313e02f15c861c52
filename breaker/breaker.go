// Package breaker implements a three-state circuit breaker (closed, open,
// half-open) shared by the HTTP and RPC transports.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow when the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is one of the three breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// Snapshot is a point-in-time, immutable view of breaker state for
// diagnostics and metrics.
type Snapshot struct {
	State     State
	Failures  int
	Successes int
	OpenedAt  time.Time
}

// Breaker tracks consecutive failures and successes to decide whether calls
// should be allowed through, rejected outright, or treated as a recovery
// probe. A single mutex guards the whole struct; every critical section here
// is O(1) so the breaker never blocks a caller on I/O.
type Breaker struct {
	mu sync.Mutex

	disabled bool

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a Breaker that opens after failureThreshold consecutive
// countable failures, and that closes again after successThreshold
// consecutive successes once it has entered half-open following cooldown.
func New(failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
	}
}

// Disable turns the breaker into a pass-through: Allow always succeeds and
// Record is a no-op. Re-enabling resumes from StateClosed.
func (b *Breaker) Disable(disabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = disabled
	if disabled {
		b.state = StateClosed
		b.failures = 0
		b.successes = 0
	}
}

// Allow reports whether a call may proceed. When open and the cooldown has
// elapsed it flips to half-open and allows the call through as a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return nil
	}

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.successes = 0
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// Record reports the outcome of a call that Allow had permitted through.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return
	}

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}

	case StateHalfOpen:
		if !success {
			b.state = StateOpen
			b.openedAt = time.Now()
			b.failures = 0
			return
		}
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// Reset forces the breaker back to StateClosed with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.openedAt = time.Time{}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a consistent point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:     b.state,
		Failures:  b.failures,
		Successes: b.successes,
		OpenedAt:  b.openedAt,
	}
}

// CountsAsFailure classifies a call outcome for Record: network errors,
// 5xx responses, and 429 count against the breaker; other 4xx responses are
// client errors and must not trip it.
func CountsAsFailure(statusCode int, netErr error) bool {
	if netErr != nil {
		return true
	}
	if statusCode == 429 {
		return true
	}
	if statusCode >= 500 {
		return true
	}
	return false
}
