// Package logging provides structured component logging for the manifestcache service.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger provides structured logging scoped to one component
type Logger struct {
	component string
	logger    *slog.Logger
}

// NewLogger creates a new logger for a specific component
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    slog.New(newHandler()),
	}
}

// newHandler builds a slog handler from environment configuration
func newHandler() slog.Handler {
	var output io.Writer = os.Stdout
	opts := &slog.HandlerOptions{Level: levelFromEnv()}

	if strings.EqualFold(os.Getenv("MANIFESTCACHE_LOG_FORMAT"), "json") {
		return slog.NewJSONHandler(output, opts)
	}
	return slog.NewTextHandler(output, opts)
}

// levelFromEnv determines the log level from the environment
func levelFromEnv() slog.Level {
	// Tests stay quiet unless a level is forced
	if os.Getenv("MANIFESTCACHE_TEST_MODE") == "true" && os.Getenv("MANIFESTCACHE_LOG_LEVEL") == "" {
		return slog.LevelError
	}

	switch strings.ToUpper(os.Getenv("MANIFESTCACHE_LOG_LEVEL")) {
	case "DEBUG", "TRACE":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a logger carrying additional structured fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		component: l.component,
		logger:    l.logger.With(args...),
	}
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", l.component)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), "component", l.component)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", l.component)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", l.component)
}
