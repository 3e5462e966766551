package drainer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/provider"
	"github.com/BayajidAlam/node-fleet/pkg/registry"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

func testDrainer(compute provider.Compute, reg registry.Registry) *Drainer {
	return &Drainer{
		compute:      compute,
		registry:     reg,
		drainTimeout: 100 * time.Millisecond,
		pollInterval: 5 * time.Millisecond,
		logger:       zerolog.Nop(),
	}
}

// addWorker seeds a joined worker into both the provider and the registry
// and returns its inventory entry.
func addWorker(compute *provider.Fake, reg *registry.Fake, id, zone string, joinedAgo time.Duration, pods ...registry.Pod) types.WorkerInstance {
	w := types.WorkerInstance{
		InstanceID: id,
		Zone:       zone,
		Market:     types.MarketOnDemand,
		LaunchTime: time.Now().Add(-joinedAgo - time.Minute),
		JoinTime:   time.Now().Add(-joinedAgo),
		NodeName:   "node-" + id,
		Tags:       types.WorkerTags("test-cluster", types.MarketOnDemand),
	}
	compute.Seed(w)
	reg.AddNode(registry.Node{
		Name:       w.NodeName,
		InstanceID: id,
		Zone:       zone,
		Ready:      true,
		CreatedAt:  w.JoinTime,
	}, pods...)
	return w
}

func workloadPod(name string) registry.Pod {
	return registry.Pod{Name: name, Namespace: "default"}
}

func daemonPod(name string) registry.Pod {
	return registry.Pod{Name: name, Namespace: "default", Daemon: true}
}

// TestSelectVictimsZoneBalance tests that the most populated zone is
// drained first
func TestSelectVictimsZoneBalance(t *testing.T) {
	compute := provider.NewFake()
	reg := registry.NewFake()

	inventory := []types.WorkerInstance{
		addWorker(compute, reg, "i-a1", "us-east-1a", time.Hour),
		addWorker(compute, reg, "i-a2", "us-east-1a", 2*time.Hour),
		addWorker(compute, reg, "i-a3", "us-east-1a", 3*time.Hour),
		addWorker(compute, reg, "i-b1", "us-east-1b", 4*time.Hour),
	}

	d := testDrainer(compute, reg)
	victims, err := d.SelectVictims(context.Background(), inventory, 1)
	require.NoError(t, err)
	require.Len(t, victims, 1)
	assert.Equal(t, "us-east-1a", victims[0].Instance.Zone)
	// Longest joined wins the tie inside the zone.
	assert.Equal(t, "i-a3", victims[0].Instance.InstanceID)
}

// TestSelectVictimsZoneFloor tests that a lone-worker zone is protected
// while a peer zone holds more than one
func TestSelectVictimsZoneFloor(t *testing.T) {
	compute := provider.NewFake()
	reg := registry.NewFake()

	inventory := []types.WorkerInstance{
		addWorker(compute, reg, "i-a1", "us-east-1a", time.Hour),
		addWorker(compute, reg, "i-a2", "us-east-1a", 2*time.Hour),
		addWorker(compute, reg, "i-b1", "us-east-1b", 10*time.Hour),
	}

	d := testDrainer(compute, reg)

	// i-b1 is the longest idle and would win on tie-breaks, but removing
	// it would empty zone b while zone a still holds two workers.
	victims, err := d.SelectVictims(context.Background(), inventory, 1)
	require.NoError(t, err)
	require.Len(t, victims, 1)
	assert.Equal(t, "us-east-1a", victims[0].Instance.Zone)
}

// TestSelectVictimsFewestPods tests that lightly loaded nodes go first
func TestSelectVictimsFewestPods(t *testing.T) {
	compute := provider.NewFake()
	reg := registry.NewFake()

	inventory := []types.WorkerInstance{
		addWorker(compute, reg, "i-busy", "us-east-1a", time.Hour,
			workloadPod("web-1"), workloadPod("web-2"), daemonPod("logs-1")),
		addWorker(compute, reg, "i-idle", "us-east-1a", time.Hour,
			daemonPod("logs-2")),
	}

	d := testDrainer(compute, reg)
	victims, err := d.SelectVictims(context.Background(), inventory, 1)
	require.NoError(t, err)
	require.Len(t, victims, 1)
	assert.Equal(t, "i-idle", victims[0].Instance.InstanceID)
}

// TestSelectVictimsExclusions tests singleton and disruption-budget
// protection
func TestSelectVictimsExclusions(t *testing.T) {
	compute := provider.NewFake()
	reg := registry.NewFake()
	reg.SingletonPods["lonely-db"] = true
	reg.BlockedPods["guarded-api"] = true

	inventory := []types.WorkerInstance{
		addWorker(compute, reg, "i-singleton", "us-east-1a", time.Hour, workloadPod("lonely-db")),
		addWorker(compute, reg, "i-blocked", "us-east-1a", time.Hour, workloadPod("guarded-api")),
		addWorker(compute, reg, "i-free", "us-east-1a", time.Hour, workloadPod("web-1")),
	}

	d := testDrainer(compute, reg)
	victims, err := d.SelectVictims(context.Background(), inventory, 3)
	require.NoError(t, err)
	require.Len(t, victims, 1)
	assert.Equal(t, "i-free", victims[0].Instance.InstanceID)
}

// TestSelectVictimsSkipsUnjoined tests that booting instances are never
// drain victims
func TestSelectVictimsSkipsUnjoined(t *testing.T) {
	compute := provider.NewFake()
	reg := registry.NewFake()

	joined := addWorker(compute, reg, "i-joined", "us-east-1a", time.Hour)
	booting := types.WorkerInstance{InstanceID: "i-booting", Zone: "us-east-1a"}

	d := testDrainer(compute, reg)
	victims, err := d.SelectVictims(context.Background(), []types.WorkerInstance{joined, booting}, 2)
	require.NoError(t, err)
	require.Len(t, victims, 1)
	assert.Equal(t, "i-joined", victims[0].Instance.InstanceID)
}

// TestRemoveDrainsAndTerminates tests the full removal protocol
func TestRemoveDrainsAndTerminates(t *testing.T) {
	compute := provider.NewFake()
	reg := registry.NewFake()

	w := addWorker(compute, reg, "i-victim", "us-east-1a", time.Hour,
		workloadPod("web-1"), workloadPod("web-2"), daemonPod("logs-1"))

	d := testDrainer(compute, reg)
	victims, err := d.SelectVictims(context.Background(), []types.WorkerInstance{w}, 1)
	require.NoError(t, err)
	require.Len(t, victims, 1)

	result, err := d.Remove(context.Background(), victims)
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)
	assert.Empty(t, result.Failed)

	assert.Equal(t, []string{"node-i-victim"}, reg.Cordoned)
	assert.ElementsMatch(t, []string{"default/web-1", "default/web-2"}, reg.Evictions)
	assert.Equal(t, []string{"i-victim"}, compute.Terminated)
	assert.Equal(t, []string{"node-i-victim"}, reg.Deleted)
	assert.Empty(t, reg.Uncordoned)
}

// TestRemoveDrainTimeoutAborts tests that a stuck pod rolls the node back
func TestRemoveDrainTimeoutAborts(t *testing.T) {
	compute := provider.NewFake()
	reg := registry.NewFake()
	reg.StuckPods["web-stuck"] = true

	w := addWorker(compute, reg, "i-victim", "us-east-1a", time.Hour,
		workloadPod("web-stuck"))

	d := testDrainer(compute, reg)
	victims, err := d.SelectVictims(context.Background(), []types.WorkerInstance{w}, 1)
	require.NoError(t, err)
	require.Len(t, victims, 1)

	result, err := d.Remove(context.Background(), victims)
	require.NoError(t, err)
	assert.Empty(t, result.Removed)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, errdefs.KindDrainTimeout, result.Failed[0].Cause)
	assert.Equal(t, "i-victim", result.Failed[0].InstanceID)

	// The worker stays: uncordoned, never terminated, node object intact.
	assert.Equal(t, []string{"node-i-victim"}, reg.Uncordoned)
	assert.Empty(t, compute.Terminated)
	assert.Empty(t, reg.Deleted)
	assert.Equal(t, 1, compute.Count())
}

// TestRepairUncordonsStaleNodes tests that a cordon left behind by an
// aborted drain is cleared on the next pass, and schedulable nodes are
// left alone.
func TestRepairUncordonsStaleNodes(t *testing.T) {
	ctx := context.Background()
	compute := provider.NewFake()
	reg := registry.NewFake()
	d := testDrainer(compute, reg)

	stale := addWorker(compute, reg, "i-stale", "us-east-1a", time.Hour)
	healthy := addWorker(compute, reg, "i-healthy", "us-east-1b", time.Hour)
	require.NoError(t, reg.Cordon(ctx, "node-i-stale"))

	require.NoError(t, d.Repair(ctx, []types.WorkerInstance{stale, healthy}))

	assert.Equal(t, []string{"node-i-stale"}, reg.Uncordoned)

	// Idempotent: a second pass finds nothing to do.
	require.NoError(t, d.Repair(ctx, []types.WorkerInstance{stale, healthy}))
	assert.Len(t, reg.Uncordoned, 1)
}

// TestRemoveContinuesAfterFailure tests that one aborted drain does not
// stop the rest of the batch
func TestRemoveContinuesAfterFailure(t *testing.T) {
	compute := provider.NewFake()
	reg := registry.NewFake()
	reg.StuckPods["web-stuck"] = true

	stuck := addWorker(compute, reg, "i-stuck", "us-east-1a", time.Hour, workloadPod("web-stuck"))
	clean := addWorker(compute, reg, "i-clean", "us-east-1a", 2*time.Hour)

	d := testDrainer(compute, reg)
	result, err := d.Remove(context.Background(), []Victim{
		{Instance: stuck, Node: registry.Node{Name: stuck.NodeName, InstanceID: stuck.InstanceID, Zone: stuck.Zone}},
		{Instance: clean, Node: registry.Node{Name: clean.NodeName, InstanceID: clean.InstanceID, Zone: clean.Zone}},
	})
	require.NoError(t, err)

	require.Len(t, result.Removed, 1)
	assert.Equal(t, "i-clean", result.Removed[0].Instance.InstanceID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "i-stuck", result.Failed[0].InstanceID)
	assert.Equal(t, []string{"i-clean"}, compute.Terminated)
}
