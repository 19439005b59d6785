package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wellintake/manifestcache/internal/cache"
	"github.com/wellintake/manifestcache/internal/config"
	"github.com/wellintake/manifestcache/internal/logging"
)

// historyRetention bounds the in-memory snapshot history
const historyRetention = 24 * time.Hour

// recoveryWindow is how far back the recovery rule looks for unresolved alerts
const recoveryWindow = 2 * time.Hour

// maxStoredAlerts bounds the in-memory alert list
const maxStoredAlerts = 500

// Snapshot is one periodic health observation of the cache client
type Snapshot struct {
	Taken          time.Time             `json:"taken"`
	Metrics        cache.MetricsSnapshot `json:"metrics"`
	BreakerOpen    bool                  `json:"breaker_open"`
	FallbackMode   bool                  `json:"fallback_mode"`
	FallbackReason string                `json:"fallback_reason,omitempty"`
	Healthy        bool                  `json:"healthy"`
}

// Stats summarizes the monitor's own state
type Stats struct {
	Running      bool      `json:"running"`
	LastCheck    time.Time `json:"last_check"`
	Snapshots    int       `json:"snapshots"`
	ActiveAlerts int       `json:"active_alerts"`
}

// CacheMonitor periodically snapshots the cache client, evaluates alert
// rules, and dispatches fired alerts to sinks with per-type cooldowns.
type CacheMonitor struct {
	client *cache.Client
	cfg    config.MonitorConfig
	sinks  []AlertSink
	logger *logging.Logger

	mu           sync.RWMutex
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lastCheck    time.Time
	history      []Snapshot
	alerts       []*Alert
	lastDispatch map[string]time.Time
}

// NewCacheMonitor creates a monitor for the given client and sinks
func NewCacheMonitor(client *cache.Client, cfg config.MonitorConfig, sinks []AlertSink) *CacheMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = 15 * time.Minute
	}
	if len(sinks) == 0 {
		sinks = []AlertSink{NewLogSink()}
	}

	return &CacheMonitor{
		client:       client,
		cfg:          cfg,
		sinks:        sinks,
		logger:       logging.NewLogger("cache-monitor"),
		lastDispatch: make(map[string]time.Time),
	}
}

// Start begins the monitoring loop
func (m *CacheMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true

	m.wg.Add(1)
	go m.loop()

	m.logger.Infof("Started with interval %v, cooldown %v", m.cfg.Interval, m.cfg.AlertCooldown)
	return nil
}

// Stop stops the monitor, waiting for the loop to exit
func (m *CacheMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown timeout: %w", ctx.Err())
	}
}

// GetStats returns the monitor's own state
func (m *CacheMonitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, a := range m.alerts {
		if !a.Resolved {
			active++
		}
	}
	return Stats{
		Running:      m.running,
		LastCheck:    m.lastCheck,
		Snapshots:    len(m.history),
		ActiveAlerts: active,
	}
}

// Alerts returns a copy of stored alerts, optionally including resolved ones
func (m *CacheMonitor) Alerts(includeResolved bool) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if a.Resolved && !includeResolved {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// loop is the monitoring ticker loop
func (m *CacheMonitor) loop() {
	defer m.wg.Done()

	m.Check(m.ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Check(m.ctx)
		}
	}
}

// Check performs one monitoring tick: snapshot, evaluate, dispatch. Exported
// so operational endpoints and tests can force a tick.
func (m *CacheMonitor) Check(ctx context.Context) {
	snap := m.takeSnapshot()
	fired := m.evaluate(snap)

	for _, alert := range fired {
		if !m.shouldDispatch(alert.Type) {
			m.logger.Debugf("Suppressing %q alert inside cooldown window", alert.Type)
			continue
		}
		m.store(alert)
		m.dispatch(ctx, alert)
	}

	m.mu.Lock()
	m.lastCheck = time.Now()
	m.mu.Unlock()
}

// takeSnapshot observes the cache client and appends to bounded history
func (m *CacheMonitor) takeSnapshot() Snapshot {
	metrics := m.client.Metrics().Snapshot()
	breaker := m.client.BreakerState()
	fallback, reason := m.client.FallbackState()

	snap := Snapshot{
		Taken:          time.Now(),
		Metrics:        metrics,
		BreakerOpen:    breaker.Open,
		FallbackMode:   fallback,
		FallbackReason: reason,
		Healthy:        !breaker.Open && !fallback,
	}

	m.mu.Lock()
	m.history = append(m.history, snap)
	cutoff := time.Now().Add(-historyRetention)
	for len(m.history) > 0 && m.history[0].Taken.Before(cutoff) {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snap
}

// evaluate runs every alert rule against the snapshot and history
func (m *CacheMonitor) evaluate(snap Snapshot) []*Alert {
	var fired []*Alert

	if snap.BreakerOpen {
		fired = append(fired, newAlert(AlertCircuitBreakerOpen, SeverityCritical,
			"Cache circuit breaker is open; callers are degrading to miss behavior",
			map[string]interface{}{"connection_failures": snap.Metrics.ConnectionFailures}))
	}

	if snap.FallbackMode {
		fired = append(fired, newAlert(AlertFallbackActive, SeverityError,
			fmt.Sprintf("Cache fallback mode active: %s", snap.FallbackReason),
			map[string]interface{}{"fallback_activations": snap.Metrics.FallbackActivations}))
	}

	if snap.Metrics.ConnectionFailures > m.cfg.ConnFailureThreshold {
		fired = append(fired, newAlert(AlertConnectionFailures, SeverityWarning,
			fmt.Sprintf("Cache connection failures (%d) exceed threshold (%d)",
				snap.Metrics.ConnectionFailures, m.cfg.ConnFailureThreshold),
			map[string]interface{}{"connection_failures": snap.Metrics.ConnectionFailures}))
	}

	if rate, ok := m.hourlyErrorRate(snap); ok && rate > m.cfg.ErrorRateThreshold {
		fired = append(fired, newAlert(AlertHighErrorRate, SeverityWarning,
			fmt.Sprintf("Cache error rate %.0f%% over the last hour exceeds %.0f%%",
				rate*100, m.cfg.ErrorRateThreshold*100),
			map[string]interface{}{"error_rate": rate}))
	}

	if drop, ok := m.uptimeDrop(); ok && drop > m.cfg.UptimeDropThreshold {
		fired = append(fired, newAlert(AlertUptimeDegraded, SeverityWarning,
			fmt.Sprintf("Cache uptime dropped by %.0f%% across recent checks", drop*100),
			map[string]interface{}{"uptime_drop": drop}))
	}

	if recovered := m.checkRecovery(snap); recovered != nil {
		fired = append(fired, recovered)
	}

	return fired
}

// hourlyErrorRate computes the error share of operations over the last hour
// of history. ok is false when there is not enough history to compare.
func (m *CacheMonitor) hourlyErrorRate(current Snapshot) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := current.Taken.Add(-time.Hour)
	var baseline *Snapshot
	for i := range m.history {
		if !m.history[i].Taken.Before(cutoff) {
			baseline = &m.history[i]
			break
		}
	}
	if baseline == nil || baseline.Taken.Equal(current.Taken) {
		return 0, false
	}

	errDelta := current.Metrics.Errors - baseline.Metrics.Errors
	opsDelta := (current.Metrics.Hits + current.Metrics.Misses + current.Metrics.Errors) -
		(baseline.Metrics.Hits + baseline.Metrics.Misses + baseline.Metrics.Errors)
	if opsDelta <= 0 {
		return 0, false
	}
	return float64(errDelta) / float64(opsDelta), true
}

// uptimeDrop compares the healthy fraction of the last 5 snapshots against
// the prior 5. ok is false without at least 10 snapshots of history.
func (m *CacheMonitor) uptimeDrop() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) < 10 {
		return 0, false
	}

	recent := m.history[len(m.history)-5:]
	prior := m.history[len(m.history)-10 : len(m.history)-5]

	return healthyFraction(prior) - healthyFraction(recent), true
}

func healthyFraction(snaps []Snapshot) float64 {
	healthy := 0
	for _, s := range snaps {
		if s.Healthy {
			healthy++
		}
	}
	return float64(healthy) / float64(len(snaps))
}

// checkRecovery fires when the cache is fully healthy again while an
// unresolved issue alert from the recovery window exists; those alerts are
// marked resolved as a side effect.
func (m *CacheMonitor) checkRecovery(snap Snapshot) *Alert {
	if !snap.Healthy {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-recoveryWindow)
	resolved := 0
	for _, a := range m.alerts {
		if a.Resolved || a.Type == AlertRecovered || a.Timestamp.Before(cutoff) {
			continue
		}
		now := time.Now()
		a.Resolved = true
		a.ResolvedAt = &now
		resolved++
	}
	if resolved == 0 {
		return nil
	}

	return newAlert(AlertRecovered, SeverityInfo,
		fmt.Sprintf("Cache recovered; resolved %d prior alerts", resolved),
		map[string]interface{}{"resolved_alerts": resolved})
}

// shouldDispatch applies the per-type cooldown window
func (m *CacheMonitor) shouldDispatch(alertType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastDispatch[alertType]; ok && time.Since(last) < m.cfg.AlertCooldown {
		return false
	}
	m.lastDispatch[alertType] = time.Now()
	return true
}

// store appends the alert to the bounded in-memory list
func (m *CacheMonitor) store(alert *Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxStoredAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxStoredAlerts:]
	}
	m.mu.Unlock()
}

// dispatch sends the alert to every sink; failures are logged, never raised
func (m *CacheMonitor) dispatch(ctx context.Context, alert *Alert) {
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			m.logger.Warnf("Alert dispatch to %s failed: %v", sink.Name(), err)
		}
	}
}

// History returns a copy of the snapshot history
func (m *CacheMonitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}
