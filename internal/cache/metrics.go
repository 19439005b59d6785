package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Health classifies the cache client's recent behavior
type Health string

// Health states derived from the metrics block
const (
	HealthHealthy   Health = "HEALTHY"
	HealthDegraded  Health = "DEGRADED"
	HealthUnhealthy Health = "UNHEALTHY"
	HealthUnknown   Health = "UNKNOWN"
)

// Metrics is the process-local bookkeeping block for the cache client.
// Counters are cumulative and never reset except on process restart. It is
// mutated only by the Client and read concurrently by the monitor and the
// status endpoint, so every counter is atomic.
type Metrics struct {
	hits                atomic.Int64
	misses              atomic.Int64
	errors              atomic.Int64
	connectionFailures  atomic.Int64
	timeoutFailures     atomic.Int64
	fallbackActivations atomic.Int64
	savingsMicros       atomic.Int64 // accumulated estimate in micro-dollars

	mu                      sync.RWMutex
	lastSuccessfulOperation time.Time
	lastAttemptedOperation  time.Time
}

// MetricsSnapshot is an immutable copy of the metrics block
type MetricsSnapshot struct {
	Hits                    int64      `json:"hits"`
	Misses                  int64      `json:"misses"`
	Errors                  int64      `json:"errors"`
	ConnectionFailures      int64      `json:"connection_failures"`
	TimeoutFailures         int64      `json:"timeout_failures"`
	FallbackActivations     int64      `json:"fallback_activations"`
	EstimatedSavingsUSD     float64    `json:"estimated_savings_usd"`
	LastSuccessfulOperation *time.Time `json:"last_successful_operation,omitempty"`
	LastAttemptedOperation  *time.Time `json:"last_attempted_operation,omitempty"`
	Health                  Health     `json:"health"`
	HitRate                 float64    `json:"hit_rate"`
}

// NewMetrics creates a zeroed metrics block
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordHit records a cache hit and the savings it represents
func (m *Metrics) RecordHit(savingsMicros int64) {
	m.hits.Add(1)
	if savingsMicros > 0 {
		m.savingsMicros.Add(savingsMicros)
	}
	m.markSuccess()
}

// RecordMiss records a cache miss
func (m *Metrics) RecordMiss() {
	m.misses.Add(1)
	m.markAttempt()
}

// RecordConnectionFailure records a failed connection attempt
func (m *Metrics) RecordConnectionFailure() {
	m.errors.Add(1)
	m.connectionFailures.Add(1)
	m.markAttempt()
}

// RecordTimeoutFailure records an operation that exceeded its deadline
func (m *Metrics) RecordTimeoutFailure() {
	m.errors.Add(1)
	m.timeoutFailures.Add(1)
	m.markAttempt()
}

// RecordFallbackActivation records one fallback-mode activation edge
func (m *Metrics) RecordFallbackActivation() {
	m.fallbackActivations.Add(1)
}

// RecordSuccess records a successful non-hit operation (set, delete)
func (m *Metrics) RecordSuccess() {
	m.markSuccess()
}

func (m *Metrics) markSuccess() {
	now := time.Now()
	m.mu.Lock()
	m.lastSuccessfulOperation = now
	m.lastAttemptedOperation = now
	m.mu.Unlock()
}

func (m *Metrics) markAttempt() {
	now := time.Now()
	m.mu.Lock()
	m.lastAttemptedOperation = now
	m.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters plus the derived health
func (m *Metrics) Snapshot() MetricsSnapshot {
	hits := m.hits.Load()
	misses := m.misses.Load()
	errs := m.errors.Load()

	snap := MetricsSnapshot{
		Hits:                hits,
		Misses:              misses,
		Errors:              errs,
		ConnectionFailures:  m.connectionFailures.Load(),
		TimeoutFailures:     m.timeoutFailures.Load(),
		FallbackActivations: m.fallbackActivations.Load(),
		EstimatedSavingsUSD: float64(m.savingsMicros.Load()) / 1e6,
		Health:              deriveHealth(hits, misses, errs),
	}

	if total := hits + misses; total > 0 {
		snap.HitRate = float64(hits) / float64(total)
	}

	m.mu.RLock()
	if !m.lastSuccessfulOperation.IsZero() {
		t := m.lastSuccessfulOperation
		snap.LastSuccessfulOperation = &t
	}
	if !m.lastAttemptedOperation.IsZero() {
		t := m.lastAttemptedOperation
		snap.LastAttemptedOperation = &t
	}
	m.mu.RUnlock()

	return snap
}

// deriveHealth classifies the error share of all recorded operations
func deriveHealth(hits, misses, errs int64) Health {
	total := hits + misses + errs
	if total == 0 {
		return HealthUnknown
	}
	rate := float64(errs) / float64(total)
	switch {
	case rate >= 0.5:
		return HealthUnhealthy
	case rate > 0.1:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}
