package registry

import (
	"context"
	"fmt"
	"sync"
)

// Fake implements Registry in memory for tests. Nodes and pods are seeded
// directly; eviction removes pods unless the pod is listed in StuckPods.
type Fake struct {
	mu sync.Mutex

	nodes map[string]*Node
	pods  map[string][]Pod

	// StuckPods refuse to leave during eviction, simulating a pod that
	// outlives the drain deadline.
	StuckPods map[string]bool

	// SingletonPods have no ready replica elsewhere.
	SingletonPods map[string]bool

	// BlockedPods sit under an exhausted disruption budget.
	BlockedPods map[string]bool

	Cordoned   []string
	Uncordoned []string
	Deleted    []string
	Evictions  []string
}

// NewFake creates an empty fake registry.
func NewFake() *Fake {
	return &Fake{
		nodes:         make(map[string]*Node),
		pods:          make(map[string][]Pod),
		StuckPods:     make(map[string]bool),
		SingletonPods: make(map[string]bool),
		BlockedPods:   make(map[string]bool),
	}
}

// AddNode seeds a node with its pods.
func (f *Fake) AddNode(node Node, pods ...Pod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := node
	f.nodes[node.Name] = &n
	f.pods[node.Name] = append([]Pod(nil), pods...)
}

// MarkJoined flips a node to ready, simulating a successful bootstrap.
func (f *Fake) MarkJoined(nodeName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[nodeName]; ok {
		n.Ready = true
	}
}

func (f *Fake) ListNodes(_ context.Context) ([]Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Node
	for _, n := range f.nodes {
		out = append(out, *n)
	}
	return out, nil
}

func (f *Fake) NodeByInstanceID(_ context.Context, instanceID string) (*Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.nodes {
		if n.InstanceID == instanceID {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *Fake) Cordon(_ context.Context, nodeName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nodeName]
	if !ok {
		return fmt.Errorf("node not found: %s", nodeName)
	}
	n.Unschedulable = true
	f.Cordoned = append(f.Cordoned, nodeName)
	return nil
}

func (f *Fake) Uncordon(_ context.Context, nodeName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nodeName]
	if !ok {
		return fmt.Errorf("node not found: %s", nodeName)
	}
	n.Unschedulable = false
	f.Uncordoned = append(f.Uncordoned, nodeName)
	return nil
}

func (f *Fake) Pods(_ context.Context, nodeName string) ([]Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Pod(nil), f.pods[nodeName]...), nil
}

func (f *Fake) EvictPod(_ context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Evictions = append(f.Evictions, namespace+"/"+name)
	if f.StuckPods[name] {
		return nil // eviction accepted but the pod never leaves
	}
	for nodeName, pods := range f.pods {
		var kept []Pod
		for _, p := range pods {
			if !(p.Namespace == namespace && p.Name == name) {
				kept = append(kept, p)
			}
		}
		f.pods[nodeName] = kept
	}
	return nil
}

func (f *Fake) DeleteNode(_ context.Context, nodeName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, nodeName)
	delete(f.pods, nodeName)
	f.Deleted = append(f.Deleted, nodeName)
	return nil
}

func (f *Fake) HasReadyReplicaElsewhere(_ context.Context, pod Pod, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.SingletonPods[pod.Name], nil
}

func (f *Fake) DisruptionsAllowed(_ context.Context, pod Pod) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.BlockedPods[pod.Name], nil
}
