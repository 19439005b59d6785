// Package cache provides a resilient client for the remote manifest cache,
// including circuit breaking, retry policies, key construction, and metrics.
package cache

import (
	"sync"
	"time"

	"github.com/wellintake/manifestcache/internal/logging"
)

// BreakerState is a point-in-time snapshot of the circuit breaker
type BreakerState struct {
	Open            bool       `json:"open"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	NextRetryTime   *time.Time `json:"next_retry_time,omitempty"`
}

// CircuitBreaker gates backend access after repeated failures. Once the
// failure count reaches the threshold the circuit opens for failureTimeout;
// after that window elapses the next caller acts as the half-open probe.
type CircuitBreaker struct {
	mu             sync.Mutex
	threshold      int
	failureTimeout time.Duration
	logger         *logging.Logger

	failureCount    int
	open            bool
	lastFailureTime time.Time
	nextRetryTime   time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given threshold and
// open-window duration. Non-positive arguments fall back to defaults.
func NewCircuitBreaker(threshold int, failureTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if failureTimeout <= 0 {
		failureTimeout = 5 * time.Minute
	}
	return &CircuitBreaker{
		threshold:      threshold,
		failureTimeout: failureTimeout,
		logger:         logging.NewLogger("circuit-breaker"),
	}
}

// RecordFailure increments the failure count and opens the circuit once the
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.failureCount >= cb.threshold && !cb.open {
		cb.open = true
		cb.nextRetryTime = time.Now().Add(cb.failureTimeout)
		cb.logger.Warnf("Circuit opened after %d failures, next retry at %s",
			cb.failureCount, cb.nextRetryTime.Format(time.RFC3339))
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.open || cb.failureCount > 0 {
		cb.logger.Infof("Circuit closed after successful operation")
	}
	cb.failureCount = 0
	cb.open = false
	cb.lastFailureTime = time.Time{}
	cb.nextRetryTime = time.Time{}
}

// IsOpen reports whether the circuit is currently blocking attempts. When the
// retry window has elapsed the flag is cleared and one attempt is allowed
// through as the probe; the probe's outcome decides what happens next.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return false
	}
	if time.Now().Before(cb.nextRetryTime) {
		return true
	}

	// Retry window elapsed: let the next operation probe the backend
	cb.open = false
	cb.logger.Infof("Circuit retry window elapsed, allowing probe attempt")
	return false
}

// State returns a snapshot of the breaker for status reporting
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := BreakerState{
		Open:         cb.open,
		FailureCount: cb.failureCount,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		state.LastFailureTime = &t
	}
	if !cb.nextRetryTime.IsZero() {
		t := cb.nextRetryTime
		state.NextRetryTime = &t
	}
	return state
}
