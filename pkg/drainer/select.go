package drainer

import (
	"context"
	"sort"

	"github.com/BayajidAlam/node-fleet/pkg/registry"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// Victim is a worker chosen for removal together with the node-side
// context the drain protocol needs.
type Victim struct {
	Instance types.WorkerInstance
	Node     registry.Node

	// nonSystemPods is the workload count at selection time, used for
	// ordering only.
	nonSystemPods int
}

// SelectVictims picks up to k workers for removal. Selection prefers the
// most populated zones so the fleet stays balanced, never drains a zone
// to zero while a peer zone holds more than one worker, and skips nodes
// hosting singleton workloads or pods pinned by disruption budgets.
func (d *Drainer) SelectVictims(ctx context.Context, inventory []types.WorkerInstance, k int) ([]Victim, error) {
	if k <= 0 {
		return nil, nil
	}

	candidates, zoneCounts, err := d.candidates(ctx, inventory)
	if err != nil {
		return nil, err
	}

	var victims []Victim
	for len(victims) < k && len(candidates) > 0 {
		idx := pickVictim(candidates, zoneCounts)
		if idx < 0 {
			break
		}
		v := candidates[idx]
		victims = append(victims, v)
		zoneCounts[v.Instance.Zone]--
		candidates = append(candidates[:idx], candidates[idx+1:]...)
	}
	return victims, nil
}

// candidates filters the inventory down to joined workers that are safe
// to remove, and tallies per-zone worker counts over the whole fleet.
func (d *Drainer) candidates(ctx context.Context, inventory []types.WorkerInstance) ([]Victim, map[string]int, error) {
	zoneCounts := make(map[string]int)
	for _, w := range inventory {
		zoneCounts[w.Zone]++
	}

	var out []Victim
	for _, w := range inventory {
		if !w.Joined() {
			continue
		}
		node, err := d.registry.NodeByInstanceID(ctx, w.InstanceID)
		if err != nil {
			return nil, nil, err
		}
		if node == nil {
			continue
		}

		pods, err := d.registry.Pods(ctx, node.Name)
		if err != nil {
			return nil, nil, err
		}

		safe, nonSystem, err := d.removable(ctx, node.Name, pods)
		if err != nil {
			return nil, nil, err
		}
		if !safe {
			d.logger.Debug().
				Str("node", node.Name).
				Msg("Node excluded from victim selection")
			continue
		}

		out = append(out, Victim{Instance: w, Node: *node, nonSystemPods: nonSystem})
	}
	return out, zoneCounts, nil
}

// removable reports whether every workload pod on the node can be moved:
// no singleton without a ready replica elsewhere, no pod under an
// exhausted disruption budget.
func (d *Drainer) removable(ctx context.Context, nodeName string, pods []registry.Pod) (bool, int, error) {
	nonSystem := 0
	for _, pod := range pods {
		if pod.System() {
			continue
		}
		nonSystem++

		elsewhere, err := d.registry.HasReadyReplicaElsewhere(ctx, pod, nodeName)
		if err != nil {
			return false, 0, err
		}
		if !elsewhere {
			return false, 0, nil
		}

		allowed, err := d.registry.DisruptionsAllowed(ctx, pod)
		if err != nil {
			return false, 0, err
		}
		if !allowed {
			return false, 0, nil
		}
	}
	return true, nonSystem, nil
}

// pickVictim returns the index of the best eligible candidate, or -1 when
// the zone floor rules out everything.
func pickVictim(candidates []Victim, zoneCounts map[string]int) int {
	eligible := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if zoneFloorAllows(c.Instance.Zone, zoneCounts) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return -1
	}

	sort.SliceStable(eligible, func(a, b int) bool {
		va, vb := candidates[eligible[a]], candidates[eligible[b]]
		if ca, cb := zoneCounts[va.Instance.Zone], zoneCounts[vb.Instance.Zone]; ca != cb {
			return ca > cb
		}
		if va.nonSystemPods != vb.nonSystemPods {
			return va.nonSystemPods < vb.nonSystemPods
		}
		if !va.Instance.JoinTime.Equal(vb.Instance.JoinTime) {
			return va.Instance.JoinTime.Before(vb.Instance.JoinTime)
		}
		return va.Instance.InstanceID < vb.Instance.InstanceID
	})
	return eligible[0]
}

// zoneFloorAllows reports whether removing one worker from zone keeps the
// fleet inside the zone floor: a zone may only hit zero when no other
// zone holds more than one worker.
func zoneFloorAllows(zone string, zoneCounts map[string]int) bool {
	if zoneCounts[zone] > 1 {
		return true
	}
	for z, c := range zoneCounts {
		if z != zone && c > 1 {
			return false
		}
	}
	return true
}
