package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry keeps test failure paths quick
func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Factor: 2.0}
}

func setupClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := NewClient(ClientConfig{
		URL:              "redis://" + mr.Addr(),
		ConnectTimeout:   time.Second,
		OperationTimeout: time.Second,
		Retry:            fastRetry(),
		BreakerThreshold: 3,
		BreakerTimeout:   100 * time.Millisecond,
		SavingsPerHitUSD: 0.002,
	})

	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return client, mr
}

func TestClientGetSetRoundTrip(t *testing.T) {
	t.Parallel()

	client, _ := setupClient(t)
	ctx := context.Background()

	result := client.Get(ctx, "manifest:production:default:v1")
	assert.False(t, result.Hit, "empty backend must report a miss")

	ok := client.Set(ctx, "manifest:production:default:v1", []byte("<xml/>"), time.Minute)
	assert.True(t, ok)

	result = client.Get(ctx, "manifest:production:default:v1")
	assert.True(t, result.Hit)
	assert.Equal(t, []byte("<xml/>"), result.Value)

	snap := client.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.Greater(t, snap.EstimatedSavingsUSD, 0.0)
}

func TestClientSavingsAccrueWithoutExplicitRate(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// The same shape the serve command builds: no per-hit savings rate set
	client := NewClient(ClientConfig{
		URL:              "redis://" + mr.Addr(),
		ConnectTimeout:   time.Second,
		OperationTimeout: time.Second,
		Retry:            fastRetry(),
		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
	})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.True(t, client.Set(ctx, "manifest:production:default:v1", []byte("<xml/>"), time.Minute))
	for i := 0; i < 10; i++ {
		require.True(t, client.Get(ctx, "manifest:production:default:v1").Hit)
	}

	snap := client.Metrics().Snapshot()
	assert.Equal(t, int64(10), snap.Hits)
	assert.InDelta(t, 10*DefaultClientConfig().SavingsPerHitUSD, snap.EstimatedSavingsUSD, 1e-9)
}

func TestClientDelete(t *testing.T) {
	t.Parallel()

	client, mr := setupClient(t)
	ctx := context.Background()

	require.True(t, client.Set(ctx, "manifest:staging:a:v1", []byte("x"), time.Minute))
	assert.True(t, client.Delete(ctx, "manifest:staging:a:v1"))
	assert.False(t, mr.Exists("manifest:staging:a:v1"))
}

func TestClientNotConfigured(t *testing.T) {
	t.Parallel()

	client := NewClient(ClientConfig{})
	ctx := context.Background()

	assert.False(t, client.Configured())
	assert.False(t, client.Connect(ctx))
	assert.False(t, client.Get(ctx, "k").Hit)
	assert.False(t, client.Set(ctx, "k", []byte("v"), time.Minute))
	assert.False(t, client.Delete(ctx, "k"))
	assert.Zero(t, client.Invalidate(ctx, "manifest:*"))
	assert.Equal(t, SummaryNotConfigured, client.HealthSummary())

	fallback, reason := client.FallbackState()
	assert.True(t, fallback)
	assert.Equal(t, "cache backend not configured", reason)
	require.NoError(t, client.Close())
}

func TestClientInvalidURL(t *testing.T) {
	t.Parallel()

	client := NewClient(ClientConfig{URL: "not a url"})

	fallback, reason := client.FallbackState()
	assert.True(t, fallback)
	assert.Equal(t, "invalid cache backend URL", reason)
	assert.False(t, client.Configured())
}

func TestClientOutageDegradesToMiss(t *testing.T) {
	t.Parallel()

	client, mr := setupClient(t)
	ctx := context.Background()

	require.True(t, client.Set(ctx, "manifest:production:a:v1", []byte("x"), time.Minute))

	mr.Close()

	// Every operation degrades, none errors out
	assert.False(t, client.Get(ctx, "manifest:production:a:v1").Hit)
	assert.False(t, client.Set(ctx, "manifest:production:a:v2", []byte("y"), time.Minute))
	assert.False(t, client.Delete(ctx, "manifest:production:a:v1"))
	assert.Zero(t, client.Invalidate(ctx, "manifest:*"))

	fallback, _ := client.FallbackState()
	assert.True(t, fallback)

	snap := client.Metrics().Snapshot()
	assert.Positive(t, snap.ConnectionFailures+snap.TimeoutFailures)
}

func TestClientFallbackActivationCountsEdgesOnly(t *testing.T) {
	t.Parallel()

	client, mr := setupClient(t)
	ctx := context.Background()

	require.True(t, client.Connect(ctx))
	mr.Close()

	for i := 0; i < 5; i++ {
		client.Get(ctx, "k")
	}

	snap := client.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.FallbackActivations,
		"repeated degraded operations must not re-count the same activation")
}

func TestClientBreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()

	client := NewClient(ClientConfig{
		URL:              "redis://" + addr,
		ConnectTimeout:   200 * time.Millisecond,
		OperationTimeout: 200 * time.Millisecond,
		Retry:            RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
		BreakerThreshold: 3,
		BreakerTimeout:   150 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.True(t, client.Connect(ctx))
	mr.Close()

	// Each failed operation records one breaker failure
	for i := 0; i < 3; i++ {
		client.Get(ctx, "k")
	}
	assert.True(t, client.BreakerState().Open)
	assert.Equal(t, SummaryCircuitBreakerOpen, client.HealthSummary())

	// While open, connects short-circuit without touching the backend
	assert.False(t, client.Connect(ctx))

	// Backend comes back and the open window elapses: the probe reconnects
	mr2, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr2.Close)
	// miniredis cannot rebind the old port, so point a fresh client at it
	recovered := NewClient(ClientConfig{
		URL:              "redis://" + mr2.Addr(),
		Retry:            fastRetry(),
		BreakerThreshold: 3,
		BreakerTimeout:   150 * time.Millisecond,
	})
	t.Cleanup(func() { _ = recovered.Close() })

	assert.True(t, recovered.Connect(ctx))
	assert.Equal(t, SummaryHealthy, recovered.HealthSummary())
	assert.False(t, recovered.BreakerState().Open)
}

func TestClientInvalidatePattern(t *testing.T) {
	t.Parallel()

	client, _ := setupClient(t)
	ctx := context.Background()

	seed := map[string]string{
		"manifest:production:a:v1":          "1",
		"manifest:production:a:v1:metadata": "m",
		"manifest:production:b:v1":          "2",
		"manifest:staging:a:v1":             "3",
		"other:production:a:v1":             "4",
	}
	for k, v := range seed {
		require.True(t, client.Set(ctx, k, []byte(v), time.Minute))
	}

	deleted := client.Invalidate(ctx, "manifest:production:a:*")
	assert.Equal(t, 1, deleted, "metadata sidecars are deleted but not counted")

	assert.False(t, client.Get(ctx, "manifest:production:a:v1").Hit)
	assert.False(t, client.Get(ctx, "manifest:production:a:v1:metadata").Hit)
	assert.True(t, client.Get(ctx, "manifest:production:b:v1").Hit)
	assert.True(t, client.Get(ctx, "manifest:staging:a:v1").Hit)

	deleted = client.Invalidate(ctx, "manifest:*")
	assert.Equal(t, 2, deleted)
	assert.True(t, client.Get(ctx, "other:production:a:v1").Hit)
}

func TestClientHealthSummaryTransitions(t *testing.T) {
	t.Parallel()

	client, mr := setupClient(t)
	ctx := context.Background()

	assert.Equal(t, SummaryDisconnected, client.HealthSummary())

	require.True(t, client.Connect(ctx))
	assert.Equal(t, SummaryHealthy, client.HealthSummary())

	mr.Close()
	client.Get(ctx, "k")
	assert.Equal(t, SummaryFallbackMode, client.HealthSummary())
}
