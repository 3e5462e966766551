package registry

import (
	"context"
	"time"
)

// Node is the registry's view of a cluster member.
type Node struct {
	Name          string
	InstanceID    string
	Zone          string
	Ready         bool
	Unschedulable bool
	CreatedAt     time.Time
}

// Pod is the subset of pod state drain decisions need.
type Pod struct {
	Name      string
	Namespace string
	Labels    map[string]string
	Daemon    bool
	Mirror    bool
	OwnerKind string
	OwnerName string
	OwnerUID  string
	StartedAt time.Time
}

// System reports whether the pod belongs to cluster infrastructure rather
// than user workloads. Daemons and mirror pods never evict; kube-system
// pods do not count against a node's drain weight.
func (p Pod) System() bool {
	return p.Daemon || p.Mirror || p.Namespace == "kube-system"
}

// Registry is the read/write surface over the cluster's node objects.
type Registry interface {
	// ListNodes returns the worker nodes belonging to the managed cluster.
	ListNodes(ctx context.Context) ([]Node, error)

	// NodeByInstanceID resolves a provider instance id to its node, or nil
	// if the instance has not joined.
	NodeByInstanceID(ctx context.Context, instanceID string) (*Node, error)

	// Cordon marks the node unschedulable; Uncordon reverts it.
	Cordon(ctx context.Context, nodeName string) error
	Uncordon(ctx context.Context, nodeName string) error

	// Pods lists the pods currently placed on the node.
	Pods(ctx context.Context, nodeName string) ([]Pod, error)

	// EvictPod requests a graceful eviction honouring the pod's
	// termination grace period.
	EvictPod(ctx context.Context, namespace, name string) error

	// DeleteNode removes the node object after its instance is gone.
	DeleteNode(ctx context.Context, nodeName string) error

	// HasReadyReplicaElsewhere reports whether the pod's controller has a
	// ready replica on some other node. A pod without one is a singleton
	// whose host must not be drained.
	HasReadyReplicaElsewhere(ctx context.Context, pod Pod, nodeName string) (bool, error)

	// DisruptionsAllowed reports whether every disruption budget matching
	// the pod currently permits an eviction.
	DisruptionsAllowed(ctx context.Context, pod Pod) (bool, error)
}
