package cache

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/wellintake/manifestcache/internal/logging"
)

// RetryPolicy describes a bounded retry loop with exponential backoff and
// jitter. One policy instance is shared by every backend operation so retry
// behavior is tuned in exactly one place.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64 // fraction of the delay randomized, in [0,1]
}

// DefaultRetryPolicy returns the policy used for backend connections
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts with
// exponential backoff. The last error is returned once attempts are
// exhausted; context cancellation aborts the loop immediately.
func (p RetryPolicy) Do(ctx context.Context, operation string, logger *logging.Logger, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", operation, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 && logger != nil {
				logger.Infof("Operation %q succeeded after %d attempts", operation, attempt)
			}
			return nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		if logger != nil {
			logger.Warnf("Operation %q attempt %d/%d failed: %v, retrying in %v",
				operation, attempt, attempts, err, delay)
		}

		select {
		case <-time.After(p.jittered(delay)):
			delay = time.Duration(float64(delay) * p.Factor)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		case <-ctx.Done():
			return fmt.Errorf("%s retry canceled: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}

// jittered randomizes a delay by up to +/- Jitter/2 of its value
func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return time.Duration(float64(d) - spread/2 + rand.Float64()*spread) //nolint:gosec // jitter does not need crypto randomness
}
