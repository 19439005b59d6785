package cache

import (
	"context"
	"errors"
	"net"
	"strings"
)

// failureKind categorizes a backend failure for metrics attribution
type failureKind int

const (
	failureConnection failureKind = iota
	failureTimeout
)

// classifyFailure decides whether a backend error was a timeout or a
// connection-level failure. Caller-side cancellation is attributed as a
// timeout so an abandoned operation never vanishes from the books.
func classifyFailure(err error) failureKind {
	if err == nil {
		return failureConnection
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "deadline exceeded", "i/o timeout"} {
		if strings.Contains(msg, marker) {
			return failureTimeout
		}
	}

	return failureConnection
}
