// Package circuitbreaker implements a three-state breaker (closed, open,
// half_open) guarding a single upstream dependency. It has no teacher
// analogue; it is hand-rolled over sync primitives the way the teacher
// hand-rolls its own in-memory cache rather than reaching for an external
// library, since none appears anywhere in the example pack.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker's current position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker trips to Open after FailureThreshold consecutive failures, stays
// there for RecoveryTimeout, then allows one probe request through in
// HalfOpen: success closes it, failure reopens it and restarts the timer.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state           State
	consecutiveFail int
	openedAt        time.Time
}

// New creates a Breaker with the given failure threshold and recovery
// timeout.
func New(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            Closed,
	}
}

// Allow reports whether a request may proceed right now. Calling it from
// Open transitions to HalfOpen once the recovery timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.recoveryTimeout {
			b.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		// Only one probe is let through per half-open window; the caller
		// that calls Allow while the probe is outstanding is turned away.
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.consecutiveFail = 0
}

// RecordFailure registers a failed call. In Closed it trips to Open once
// consecutiveFail reaches failureThreshold; in HalfOpen a single failure
// reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.failureThreshold {
			b.trip()
		}
	case Open:
		// already open, nothing to do
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
}

// Current returns the breaker's current state.
func (b *Breaker) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
