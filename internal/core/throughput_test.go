package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewThroughputMonitor_NetworkMounted_StartsCapped_Success(t *testing.T) {
	t.Parallel()

	m := NewThroughputMonitor(true)
	require.LessOrEqual(t, m.current, networkMountedCap)
}

func TestNewThroughputMonitor_Local_StartsAtDefault_Success(t *testing.T) {
	t.Parallel()

	m := NewThroughputMonitor(false)
	require.Equal(t, startingWorkers, m.current)
}

func TestThroughputMonitor_RecommendedWorkers_NetworkCapEnforced_Success(t *testing.T) {
	t.Parallel()

	m := NewThroughputMonitor(true)

	for i := 0; i < 20; i++ {
		m.RecordCompletion(10<<20, false)
	}

	for i := 0; i < 10; i++ {
		got := m.RecommendedWorkers(false)
		require.LessOrEqual(t, got, networkMountedCap)
	}
}

func TestThroughputMonitor_RecommendedWorkers_ClampedToRange_Success(t *testing.T) {
	t.Parallel()

	m := NewThroughputMonitor(false)

	for i := 0; i < 50; i++ {
		m.RecordCompletion(1, true) // heavy error rate should keep shrinking
		got := m.RecommendedWorkers(false)
		require.GreaterOrEqual(t, got, minRecommendedWorkers)
		require.LessOrEqual(t, got, maxRecommendedWorkers)
	}
}

func TestThroughputMonitor_BytesPerSecond_ZeroWithNoSamples_Success(t *testing.T) {
	t.Parallel()

	m := NewThroughputMonitor(false)
	require.Equal(t, float64(0), m.BytesPerSecond())
}

func TestThroughputMonitor_BytesPerSecond_PositiveAfterCompletions_Success(t *testing.T) {
	t.Parallel()

	m := NewThroughputMonitor(false)
	m.RecordCompletion(1<<20, false)
	m.RecordCompletion(1<<20, false)

	require.GreaterOrEqual(t, m.BytesPerSecond(), float64(0))
}

func TestThroughputMonitor_RecordCompletion_TrimsOldSamples_Success(t *testing.T) {
	t.Parallel()

	m := NewThroughputMonitor(false)
	fakeNow := m.nowFn()
	m.nowFn = func() time.Time { return fakeNow }

	for i := 0; i < throughputMaxSamples+10; i++ {
		m.RecordCompletion(1, false)
	}

	m.mu.Lock()
	count := len(m.samples)
	m.mu.Unlock()

	require.LessOrEqual(t, count, throughputMaxSamples)
}
