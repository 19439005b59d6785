// Package monitor watches the resilient cache client, evaluates alert rules
// against periodic health snapshots, and dispatches alerts to sinks.
package monitor

import (
	"time"

	"github.com/hashicorp/go-uuid"
)

// Severity grades an alert
type Severity string

// Alert severities
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert types produced by the rule set
const (
	AlertCircuitBreakerOpen = "circuit_breaker_open"
	AlertFallbackActive     = "fallback_mode_active"
	AlertConnectionFailures = "connection_failures"
	AlertHighErrorRate      = "high_error_rate"
	AlertUptimeDegraded     = "uptime_degraded"
	AlertRecovered          = "cache_recovered"
)

// Alert is one fired rule instance
type Alert struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Severity   Severity               `json:"severity"`
	Timestamp  time.Time              `json:"timestamp"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}

// newAlert builds an alert with a fresh ID
func newAlert(alertType string, severity Severity, message string, details map[string]interface{}) *Alert {
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = time.Now().Format("20060102150405.000000000")
	}
	return &Alert{
		ID:        id,
		Type:      alertType,
		Severity:  severity,
		Timestamp: time.Now(),
		Message:   message,
		Details:   details,
	}
}
