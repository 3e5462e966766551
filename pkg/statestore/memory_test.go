package statestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

var t0 = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

// TestLockAcquireRelease tests the basic lock protocol
func TestLockAcquireRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	acq, err := store.AcquireLock(ctx, "c1", "holder-a", 5*time.Minute, t0)
	require.NoError(t, err)
	assert.False(t, acq.TakenFromExpired)
	require.NotNil(t, acq.State.Lock)
	assert.Equal(t, "holder-a", acq.State.Lock.HolderID)

	// Second holder is rejected while the lock is live
	_, err = store.AcquireLock(ctx, "c1", "holder-b", 5*time.Minute, t0.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, errdefs.IsLockContended(err))

	require.NoError(t, store.ReleaseLock(ctx, "c1", "holder-a"))

	// Free again
	_, err = store.AcquireLock(ctx, "c1", "holder-b", 5*time.Minute, t0.Add(2*time.Minute))
	assert.NoError(t, err)
}

// TestLockExpiryTakeover tests that an expired lock can be taken
func TestLockExpiryTakeover(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.AcquireLock(ctx, "c1", "holder-a", 5*time.Minute, t0)
	require.NoError(t, err)

	// Holder A crashes; six minutes later B ticks and takes the lock
	acq, err := store.AcquireLock(ctx, "c1", "holder-b", 5*time.Minute, t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.True(t, acq.TakenFromExpired)
	assert.Equal(t, "holder-b", acq.State.Lock.HolderID)
}

// TestUpdateRequiresLock tests the conditional write discipline
func TestUpdateRequiresLock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state := &types.ClusterState{ClusterID: "c1", DesiredWorkerCount: 4}

	// Without the lock, writes are rejected
	err := store.Update(ctx, state, "nobody")
	require.Error(t, err)
	assert.True(t, errdefs.IsStateConflict(err))

	_, err = store.AcquireLock(ctx, "c1", "holder-a", 5*time.Minute, t0)
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, state, "holder-a"))

	// A stale holder cannot write after a takeover
	_, err = store.AcquireLock(ctx, "c1", "holder-b", 5*time.Minute, t0.Add(6*time.Minute))
	require.NoError(t, err)
	err = store.Update(ctx, state, "holder-a")
	assert.True(t, errdefs.IsStateConflict(err))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.DesiredWorkerCount)
}

// TestReleaseAfterTakeoverConflicts tests that the old holder cannot release
func TestReleaseAfterTakeoverConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.AcquireLock(ctx, "c1", "holder-a", 5*time.Minute, t0)
	require.NoError(t, err)
	_, err = store.AcquireLock(ctx, "c1", "holder-b", 5*time.Minute, t0.Add(6*time.Minute))
	require.NoError(t, err)

	err = store.ReleaseLock(ctx, "c1", "holder-a")
	assert.True(t, errdefs.IsStateConflict(err))
}

// TestHistoricalWindow tests append ordering and window filtering
func TestHistoricalWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		m := types.NewHistoricalMetric("c1", types.MetricSample{
			CapturedAt: t0.Add(time.Duration(i) * time.Hour),
			CPUPct:     float64(40 + i),
		})
		require.NoError(t, store.AppendHistorical(ctx, m))
	}

	rows, err := store.HistoricalWindow(ctx, "c1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Timestamp.After(rows[i-1].Timestamp))
	}
	assert.Equal(t, 42.0, rows[0].CPUPct)
}

// TestStateRoundTrip tests that serialization preserves structure and
// history order
func TestStateRoundTrip(t *testing.T) {
	state := &types.ClusterState{
		ClusterID:          "c1",
		DesiredWorkerCount: 5,
		LastAction:         types.Action{Kind: types.ActionUp, At: t0, Reason: types.ReasonCPUSustained},
		CooldownUpUntil:    t0.Add(5 * time.Minute),
		CooldownDownUntil:  t0.Add(10 * time.Minute),
		MetricHistory: []types.MetricSample{
			{CapturedAt: t0.Add(-4 * time.Minute), CPUPct: 72, MemPct: 60, PendingPods: 0},
			{CapturedAt: t0.Add(-2 * time.Minute), CPUPct: 78, MemPct: 61, PendingPods: 1},
			{CapturedAt: t0, CPUPct: 80, MemPct: 63, PendingPods: 2},
		},
	}

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var got types.ClusterState
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, state.ClusterID, got.ClusterID)
	assert.Equal(t, state.DesiredWorkerCount, got.DesiredWorkerCount)
	assert.Equal(t, state.LastAction.Kind, got.LastAction.Kind)
	require.Len(t, got.MetricHistory, 3)
	for i := range got.MetricHistory {
		assert.True(t, got.MetricHistory[i].CapturedAt.Equal(state.MetricHistory[i].CapturedAt))
		assert.Equal(t, state.MetricHistory[i].CPUPct, got.MetricHistory[i].CPUPct)
	}
}

// TestDynamoWireRoundTrip tests the epoch-encoded wire conversion
func TestDynamoWireRoundTrip(t *testing.T) {
	state := &types.ClusterState{
		ClusterID:          "c1",
		DesiredWorkerCount: 3,
		LastAction:         types.Action{Kind: types.ActionDown, At: t0, Reason: types.ReasonLowUtilization},
		CooldownDownUntil:  t0.Add(10 * time.Minute),
		Lock:               &types.Lock{HolderID: "h", AcquiredAt: t0, ExpiresAt: t0.Add(5 * time.Minute)},
		MetricHistory: []types.MetricSample{
			{CapturedAt: t0.Add(-2 * time.Minute), CPUPct: 20, MemPct: 35},
			{CapturedAt: t0, CPUPct: 22, MemPct: 36},
		},
	}

	got := fromWire(toWire(state))

	assert.Equal(t, state.ClusterID, got.ClusterID)
	assert.Equal(t, state.DesiredWorkerCount, got.DesiredWorkerCount)
	assert.Equal(t, state.LastAction.Kind, got.LastAction.Kind)
	assert.Equal(t, state.LastAction.Reason, got.LastAction.Reason)
	assert.True(t, got.CooldownDownUntil.Equal(state.CooldownDownUntil))
	require.NotNil(t, got.Lock)
	assert.Equal(t, "h", got.Lock.HolderID)
	require.Len(t, got.MetricHistory, 2)
	assert.True(t, got.MetricHistory[0].CapturedAt.Before(got.MetricHistory[1].CapturedAt))
}

// TestAppendSampleBound tests the history eviction bound
func TestAppendSampleBound(t *testing.T) {
	state := &types.ClusterState{ClusterID: "c1"}
	for i := 0; i < 15; i++ {
		state.AppendSample(types.MetricSample{
			CapturedAt: t0.Add(time.Duration(i) * 2 * time.Minute),
			CPUPct:     float64(i),
		}, 10)
	}
	require.Len(t, state.MetricHistory, 10)
	// Oldest evicted, order preserved
	assert.Equal(t, 5.0, state.MetricHistory[0].CPUPct)
	assert.Equal(t, 14.0, state.MetricHistory[9].CPUPct)
}
