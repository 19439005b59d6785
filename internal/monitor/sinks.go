package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wellintake/manifestcache/internal/logging"
)

// AlertSink delivers a fired alert to some destination. Send failures are
// logged by the monitor, never propagated.
type AlertSink interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// LogSink writes alerts to the structured log
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log-backed alert sink
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.NewLogger("alert-log")}
}

// Name identifies the sink
func (s *LogSink) Name() string { return "log" }

// Send logs the alert at a level matching its severity
func (s *LogSink) Send(_ context.Context, alert *Alert) error {
	switch alert.Severity {
	case SeverityCritical, SeverityError:
		s.logger.Errorf("[%s] %s", alert.Type, alert.Message)
	case SeverityWarning:
		s.logger.Warnf("[%s] %s", alert.Type, alert.Message)
	case SeverityInfo:
		s.logger.Infof("[%s] %s", alert.Type, alert.Message)
	}
	return nil
}

// ChatWebhookSink posts alerts to a chat webhook as JSON cards
type ChatWebhookSink struct {
	url    string
	client *http.Client
}

// NewChatWebhookSink creates a chat webhook sink with a bounded timeout
func NewChatWebhookSink(url string, timeout time.Duration) *ChatWebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatWebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name identifies the sink
func (s *ChatWebhookSink) Name() string { return "chat_webhook" }

// Send posts the alert payload to the configured webhook
func (s *ChatWebhookSink) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"text":      fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Type, alert.Message),
		"alert":     alert,
		"timestamp": alert.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert dispatch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert dispatch returned status %d", resp.StatusCode)
	}
	return nil
}
