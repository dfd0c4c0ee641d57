package middleware

import (
	"sync"
	"time"
)

// circuitBreaker tracks consecutive primary store errors:
// - Open after failureThreshold failures; while open, checks go to the fallback.
// - While open, let one check through to the primary per retryInterval.
// - Close after successThreshold consecutive successful primary checks.
type circuitBreaker struct {
	mu               sync.Mutex
	state            circuitState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	retryInterval    time.Duration
	nextRetry        time.Time
	now              func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
)

func newCircuitBreaker(now func() time.Time) *circuitBreaker {
	return &circuitBreaker{
		state:            circuitClosed,
		failureThreshold: 5,
		successThreshold: 3,
		retryInterval:    5 * time.Second,
		now:              now,
	}
}

// usePrimary reports whether the next check should go to the primary store.
func (c *circuitBreaker) usePrimary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == circuitClosed {
		return true
	}
	now := c.now()
	if now.Before(c.nextRetry) {
		return false
	}
	c.nextRetry = now.Add(c.retryInterval)
	return true
}

// recordFailure returns true when this failure opened the circuit.
func (c *circuitBreaker) recordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.successCount = 0
	c.nextRetry = c.now().Add(c.retryInterval)
	if c.state == circuitOpen {
		return false
	}
	if c.failureCount >= c.failureThreshold {
		c.state = circuitOpen
		return true
	}
	return false
}

// recordSuccess returns true when this success closed the circuit.
func (c *circuitBreaker) recordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == circuitClosed {
		c.failureCount = 0
		return false
	}
	c.successCount++
	if c.successCount >= c.successThreshold {
		c.state = circuitClosed
		c.failureCount = 0
		c.successCount = 0
		return true
	}
	// Keep retrying until the threshold is met.
	c.nextRetry = time.Time{}
	return false
}
