package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.IsOpen(), "circuit must stay closed below the threshold")

	cb.RecordFailure()
	assert.True(t, cb.IsOpen(), "circuit must open once the threshold is reached")

	state := cb.State()
	assert.True(t, state.Open)
	assert.Equal(t, 3, state.FailureCount)
	require.NotNil(t, state.LastFailureTime)
	require.NotNil(t, state.NextRetryTime)
	assert.True(t, state.NextRetryTime.After(*state.LastFailureTime))
}

func TestCircuitBreakerSuccessResets(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	cb.RecordSuccess()

	assert.False(t, cb.IsOpen())
	state := cb.State()
	assert.Equal(t, 0, state.FailureCount)
	assert.Nil(t, state.LastFailureTime)
	assert.Nil(t, state.NextRetryTime)
}

func TestCircuitBreakerAllowsProbeAfterTimeout(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, 50*time.Millisecond)
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	time.Sleep(80 * time.Millisecond)

	// The elapsed window lets one caller through as the probe
	assert.False(t, cb.IsOpen())

	// A failing probe reopens the circuit for another full window
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreakerProbeSuccessCloses(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, 50*time.Millisecond)
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	time.Sleep(80 * time.Millisecond)
	require.False(t, cb.IsOpen())

	cb.RecordSuccess()

	assert.False(t, cb.IsOpen())
	assert.Equal(t, 0, cb.State().FailureCount)
}

func TestCircuitBreakerDefaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(0, 0)

	// Defaults: five failures to open
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.False(t, cb.IsOpen())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
}
