package audit

import (
	"sync"
	"time"
)

// CircuitBreaker stops the recorder from hammering an unhealthy store. While
// open, events are dropped without attempting persistence.
type CircuitBreaker struct {
	mu sync.RWMutex

	threshold int           // consecutive failures that open the circuit
	cooldown  time.Duration // how long to stay open
	now       func() time.Time

	failures  int
	openUntil time.Time
	isOpen    bool
	tripped   bool // opened since the last success
}

// NewCircuitBreaker creates a circuit breaker. Non-positive arguments fall back
// to 5 failures and a 30 second cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow returns true if the circuit is closed or the cooldown has elapsed
// (half-open: the next write is attempted).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	if !cb.isOpen {
		cb.mu.RUnlock()
		return true
	}
	expired := cb.now().After(cb.openUntil)
	cb.mu.RUnlock()

	if !expired {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.isOpen && cb.now().After(cb.openUntil) {
		cb.isOpen = false
		// One more failure re-opens immediately.
		cb.failures = cb.threshold - 1
	}
	return !cb.isOpen
}

// RecordSuccess closes the circuit and clears the failure streak. It reports
// whether the circuit had tripped since the previous success.
func (cb *CircuitBreaker) RecordSuccess() (recovered bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	recovered = cb.tripped
	cb.failures = 0
	cb.isOpen = false
	cb.tripped = false
	return recovered
}

// RecordFailure counts a failure and reports whether the circuit just opened.
func (cb *CircuitBreaker) RecordFailure() (opened bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures >= cb.threshold && !cb.isOpen {
		cb.isOpen = true
		cb.tripped = true
		cb.openUntil = cb.now().Add(cb.cooldown)
		return true
	}
	return false
}
