package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshotCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordHit(4000) // 0.4 cents per hit
	m.RecordHit(4000)
	m.RecordMiss()
	m.RecordConnectionFailure()
	m.RecordTimeoutFailure()
	m.RecordFallbackActivation()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.Equal(t, int64(2), snap.Errors)
	assert.Equal(t, int64(1), snap.ConnectionFailures)
	assert.Equal(t, int64(1), snap.TimeoutFailures)
	assert.Equal(t, int64(1), snap.FallbackActivations)
	assert.InDelta(t, 0.008, snap.EstimatedSavingsUSD, 1e-9)
	assert.InDelta(t, 2.0/3.0, snap.HitRate, 1e-9)
	require.NotNil(t, snap.LastSuccessfulOperation)
	require.NotNil(t, snap.LastAttemptedOperation)
}

func TestMetricsHealthClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		hits     int
		misses   int
		errors   int
		expected Health
	}{
		{name: "no operations", expected: HealthUnknown},
		{name: "all hits", hits: 10, expected: HealthHealthy},
		{name: "moderate errors", hits: 7, misses: 1, errors: 2, expected: HealthDegraded},
		{name: "majority errors", hits: 2, errors: 8, expected: HealthUnhealthy},
		{name: "boundary ten percent stays healthy", hits: 9, errors: 1, expected: HealthHealthy},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewMetrics()
			for i := 0; i < tt.hits; i++ {
				m.RecordHit(0)
			}
			for i := 0; i < tt.misses; i++ {
				m.RecordMiss()
			}
			for i := 0; i < tt.errors; i++ {
				m.RecordConnectionFailure()
			}

			assert.Equal(t, tt.expected, m.Snapshot().Health)
		})
	}
}

func TestMetricsEmptySnapshot(t *testing.T) {
	t.Parallel()

	snap := NewMetrics().Snapshot()
	assert.Zero(t, snap.HitRate)
	assert.Nil(t, snap.LastSuccessfulOperation)
	assert.Nil(t, snap.LastAttemptedOperation)
	assert.Equal(t, HealthUnknown, snap.Health)
}
