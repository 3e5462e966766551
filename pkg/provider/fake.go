package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// Fake implements Compute in memory for tests. Zones listed in
// SpotUnavailableZones reject spot launches; QuotaLimit caps the total
// number of live instances before launches fail with QuotaExceeded.
type Fake struct {
	mu sync.Mutex

	QuotaLimit           int
	SpotUnavailableZones map[string]bool

	instances map[string]types.WorkerInstance
	seq       int

	Launches   []LaunchSpec
	Terminated []string
}

// NewFake creates an empty fake provider with no quota limit.
func NewFake() *Fake {
	return &Fake{
		SpotUnavailableZones: make(map[string]bool),
		instances:            make(map[string]types.WorkerInstance),
	}
}

// Seed adds a pre-existing instance to the inventory.
func (f *Fake) Seed(w types.WorkerInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[w.InstanceID] = w
}

func (f *Fake) Launch(_ context.Context, spec LaunchSpec) (types.WorkerInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Launches = append(f.Launches, spec)

	if f.QuotaLimit > 0 && len(f.instances) >= f.QuotaLimit {
		return types.WorkerInstance{}, errdefs.New(errdefs.KindQuotaExceeded, "provider.Launch")
	}
	if spec.Market == types.MarketSpot && f.SpotUnavailableZones[spec.Zone] {
		return types.WorkerInstance{}, errdefs.New(errdefs.KindSpotUnavailable, "provider.Launch")
	}

	f.seq++
	w := types.WorkerInstance{
		InstanceID: fmt.Sprintf("i-%08d", f.seq),
		Zone:       spec.Zone,
		Market:     spec.Market,
		LaunchTime: time.Now(),
		Tags:       spec.Tags,
	}
	f.instances[w.InstanceID] = w
	return w, nil
}

func (f *Fake) ListInstances(_ context.Context, clusterID string) ([]types.WorkerInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.WorkerInstance
	for _, w := range f.instances {
		if w.Tags[types.TagClusterID] == clusterID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *Fake) Terminate(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		delete(f.instances, id)
		f.Terminated = append(f.Terminated, id)
	}
	return nil
}

func (f *Fake) Status(_ context.Context, ids []string) (map[string]InstanceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	statuses := make(map[string]InstanceStatus, len(ids))
	for _, id := range ids {
		if _, ok := f.instances[id]; ok {
			statuses[id] = StatusRunning
		} else {
			statuses[id] = StatusGone
		}
	}
	return statuses, nil
}

// Count returns the live instance count.
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}
