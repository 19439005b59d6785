package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wellintake/manifestcache/internal/logging"
)

// Health summary values reported by the client
const (
	SummaryNotConfigured      = "not_configured"
	SummaryCircuitBreakerOpen = "circuit_breaker_open"
	SummaryFallbackMode       = "fallback_mode"
	SummaryHealthy            = "healthy"
	SummaryDisconnected       = "disconnected"
)

// invalidateScanCount is the SCAN batch size for pattern deletes
const invalidateScanCount = 200

// Result is the outcome of a cache read. A miss is a normal value, not an
// error: backend unavailability degrades to Hit == false.
type Result struct {
	Hit   bool
	Value []byte
}

// Miss is the degraded result returned on any unavailability path
var Miss = Result{}

// ClientConfig configures the resilient cache client
type ClientConfig struct {
	// URL is the redis connection string. Empty means not configured, which
	// is a valid state: the client stays in fallback mode from the start.
	URL              string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	Retry            RetryPolicy
	BreakerThreshold int
	BreakerTimeout   time.Duration
	// SavingsPerHitUSD is the estimated generation cost avoided per hit
	SavingsPerHitUSD float64
}

// DefaultClientConfig returns the defaults used by the server
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:   10 * time.Second,
		OperationTimeout: 5 * time.Second,
		Retry:            DefaultRetryPolicy(),
		BreakerThreshold: 5,
		BreakerTimeout:   5 * time.Minute,
		SavingsPerHitUSD: 0.002,
	}
}

// Client wraps the remote TTL key-value store behind a circuit breaker with
// retry, timeouts, and a fallback mode that degrades to miss behavior. Every
// public operation has exactly two outcomes: a real result or a safe degraded
// one. Backend unavailability never surfaces as an error to callers.
type Client struct {
	cfg     ClientConfig
	breaker *CircuitBreaker
	metrics *Metrics
	logger  *logging.Logger

	rdb redis.UniversalClient

	// mu guards the connection bookkeeping only; counters have their own
	// atomics so hot-path reads never contend with connection state.
	mu             sync.Mutex
	connected      bool
	fallbackMode   bool
	fallbackReason string
}

// NewClient creates a resilient cache client. The connection is established
// lazily; construction never performs I/O.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.SavingsPerHitUSD <= 0 {
		cfg.SavingsPerHitUSD = DefaultClientConfig().SavingsPerHitUSD
	}

	c := &Client{
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout),
		metrics: NewMetrics(),
		logger:  logging.NewLogger("cache-client"),
	}

	if cfg.URL == "" {
		c.fallbackMode = true
		c.fallbackReason = "cache backend not configured"
		c.logger.Warnf("No cache backend configured, running in fallback mode")
		return c
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		c.fallbackMode = true
		c.fallbackReason = "invalid cache backend URL"
		c.logger.Errorf("Invalid cache backend URL: %v", err)
		return c
	}
	opts.DialTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout
	c.rdb = redis.NewClient(opts)

	return c
}

// Configured reports whether a backend URL was supplied and parsed
func (c *Client) Configured() bool {
	return c.rdb != nil
}

// Connect establishes or validates the backend connection. It short-circuits
// without I/O while the circuit breaker is open, and on full retry exhaustion
// records one breaker failure and enters fallback mode.
func (c *Client) Connect(ctx context.Context) bool {
	if c.rdb == nil {
		return false
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	if c.breaker.IsOpen() {
		c.enterFallback("circuit breaker open")
		return false
	}

	err := c.cfg.Retry.Do(ctx, "connect", c.logger, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
		if err := c.rdb.Ping(pingCtx).Err(); err != nil {
			return err //nolint:wrapcheck // retry wraps on exhaustion
		}
		return nil
	})
	if err != nil {
		c.recordFailure(err)
		c.enterFallback("connection attempts exhausted")
		return false
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.clearFallback()
	c.breaker.RecordSuccess()
	c.logger.Infof("Connected to cache backend")
	return true
}

// Get reads a key. Unavailability of any kind degrades to a miss.
func (c *Client) Get(ctx context.Context, key string) Result {
	if !c.ensureConnected(ctx) {
		c.metrics.RecordMiss()
		return Miss
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	val, err := c.rdb.Get(opCtx, key).Bytes()
	switch {
	case err == nil:
		c.metrics.RecordHit(int64(c.cfg.SavingsPerHitUSD * 1e6))
		return Result{Hit: true, Value: val}
	case errors.Is(err, redis.Nil):
		c.metrics.RecordMiss()
		return Miss
	default:
		c.demote(err)
		return Miss
	}
}

// Set writes a key with a TTL. Returns false, never an error, on any failure
// path so callers can always treat caching as best-effort.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if !c.ensureConnected(ctx) {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	if err := c.rdb.Set(opCtx, key, value, ttl).Err(); err != nil {
		c.demote(err)
		return false
	}
	c.metrics.RecordSuccess()
	return true
}

// Delete removes a single key, best-effort
func (c *Client) Delete(ctx context.Context, key string) bool {
	if !c.ensureConnected(ctx) {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	if err := c.rdb.Del(opCtx, key).Err(); err != nil {
		c.demote(err)
		return false
	}
	c.metrics.RecordSuccess()
	return true
}

// Invalidate deletes every key matching the pattern and returns the count of
// deleted artifact entries. Sidecar metadata keys are deleted alongside their
// artifacts but do not inflate the count. Any failure degrades to 0.
func (c *Client) Invalidate(ctx context.Context, pattern string) int {
	if !c.ensureConnected(ctx) {
		return 0
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	deleted := 0
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(opCtx, cursor, pattern, invalidateScanCount).Result()
		if err != nil {
			c.demote(err)
			return deleted
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(opCtx, keys...).Err(); err != nil {
				c.demote(err)
				return deleted
			}
			for _, key := range keys {
				if !strings.HasSuffix(key, metadataSuffix) {
					deleted++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.metrics.RecordSuccess()
	if deleted > 0 {
		c.logger.Infof("Invalidated %d entries matching %q", deleted, pattern)
	}
	return deleted
}

// Metrics returns the shared metrics block
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// BreakerState returns a snapshot of the circuit breaker
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// FallbackState returns whether fallback mode is active and why
func (c *Client) FallbackState() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallbackMode, c.fallbackReason
}

// HealthSummary classifies the client's current availability
func (c *Client) HealthSummary() string {
	if c.rdb == nil {
		return SummaryNotConfigured
	}
	if c.breaker.State().Open {
		return SummaryCircuitBreakerOpen
	}

	c.mu.Lock()
	fallback, connected := c.fallbackMode, c.connected
	c.mu.Unlock()

	switch {
	case fallback:
		return SummaryFallbackMode
	case connected:
		return SummaryHealthy
	default:
		return SummaryDisconnected
	}
}

// Close releases the underlying connection pool
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		return err //nolint:wrapcheck // close error passed through to shutdown chain
	}
	return nil
}

// ensureConnected connects on demand; false means the caller must degrade
func (c *Client) ensureConnected(ctx context.Context) bool {
	if c.rdb == nil {
		return false
	}

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if connected {
		return true
	}
	return c.Connect(ctx)
}

// demote handles a backend failure on a live connection: the connection is
// marked down, the failure is attributed in the metrics and the breaker, and
// fallback mode is activated.
func (c *Client) demote(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.recordFailure(err)
	c.enterFallback("backend operation failed")
	c.logger.Warnf("Cache backend operation failed, degrading to miss behavior: %v", err)
}

// recordFailure attributes a failure in the metrics block and the breaker
func (c *Client) recordFailure(err error) {
	if classifyFailure(err) == failureTimeout {
		c.metrics.RecordTimeoutFailure()
	} else {
		c.metrics.RecordConnectionFailure()
	}
	c.breaker.RecordFailure()
}

// enterFallback activates fallback mode; the activation counter moves only on
// the off-to-on edge, not per degraded operation.
func (c *Client) enterFallback(reason string) {
	c.mu.Lock()
	alreadyActive := c.fallbackMode
	c.fallbackMode = true
	c.fallbackReason = reason
	c.mu.Unlock()

	if !alreadyActive {
		c.metrics.RecordFallbackActivation()
		c.logger.Warnf("Fallback mode activated: %s", reason)
	}
}

// clearFallback deactivates fallback mode after a successful connection
func (c *Client) clearFallback() {
	c.mu.Lock()
	wasActive := c.fallbackMode
	c.fallbackMode = false
	c.fallbackReason = ""
	c.mu.Unlock()

	if wasActive {
		c.logger.Infof("Fallback mode cleared")
	}
}
