package provider

import (
	"context"

	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// LaunchSpec describes one worker to launch.
type LaunchSpec struct {
	TemplateID string
	Zone       string
	Market     types.Market
	Tags       map[string]string
}

// InstanceStatus is the provider-side lifecycle state of an instance.
type InstanceStatus string

const (
	StatusPending  InstanceStatus = "pending"
	StatusRunning  InstanceStatus = "running"
	StatusStopping InstanceStatus = "stopping"
	StatusGone     InstanceStatus = "gone"
)

// Compute is the IaaS surface the autoscaler depends on. The provider's
// tagged instance set is the ground truth for worker inventory; cluster
// state is reconciled against it, never the other way around.
type Compute interface {
	// Launch starts one instance from the launch template. Spot launches
	// may fail with SpotUnavailable; any launch may fail with QuotaExceeded.
	Launch(ctx context.Context, spec LaunchSpec) (types.WorkerInstance, error)

	// ListInstances returns all live instances tagged for the cluster.
	ListInstances(ctx context.Context, clusterID string) ([]types.WorkerInstance, error)

	// Terminate requests termination of the given instances.
	Terminate(ctx context.Context, ids []string) error

	// Status reports the lifecycle state of the given instances. Unknown
	// ids map to StatusGone.
	Status(ctx context.Context, ids []string) (map[string]InstanceStatus, error)
}
