package registry

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// Node labels the launch template's bootstrap stamps on every worker.
const (
	labelRole      = "node-fleet.io/role"
	labelClusterID = "node-fleet.io/cluster-id"
	labelZone      = "topology.kubernetes.io/zone"

	mirrorPodAnnotation = "kubernetes.io/config.mirror"
)

// KubeRegistry implements Registry on the Kubernetes API.
type KubeRegistry struct {
	client    kubernetes.Interface
	clusterID string
}

// NewKubeRegistry creates a registry scoped to one cluster's workers.
func NewKubeRegistry(client kubernetes.Interface, clusterID string) *KubeRegistry {
	return &KubeRegistry{client: client, clusterID: clusterID}
}

func (r *KubeRegistry) workerSelector() string {
	return fmt.Sprintf("%s=%s,%s=%s", labelRole, types.TagRoleWorker, labelClusterID, r.clusterID)
}

func (r *KubeRegistry) ListNodes(ctx context.Context) ([]Node, error) {
	list, err := r.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{
		LabelSelector: r.workerSelector(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	nodes := make([]Node, 0, len(list.Items))
	for _, n := range list.Items {
		nodes = append(nodes, fromKubeNode(&n))
	}
	return nodes, nil
}

func (r *KubeRegistry) NodeByInstanceID(ctx context.Context, instanceID string) (*Node, error) {
	nodes, err := r.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		if nodes[i].InstanceID == instanceID {
			return &nodes[i], nil
		}
	}
	return nil, nil
}

func (r *KubeRegistry) Cordon(ctx context.Context, nodeName string) error {
	return r.setUnschedulable(ctx, nodeName, true)
}

func (r *KubeRegistry) Uncordon(ctx context.Context, nodeName string) error {
	return r.setUnschedulable(ctx, nodeName, false)
}

func (r *KubeRegistry) setUnschedulable(ctx context.Context, nodeName string, value bool) error {
	patch := []byte(fmt.Sprintf(`{"spec":{"unschedulable":%t}}`, value))
	_, err := r.client.CoreV1().Nodes().Patch(ctx, nodeName, k8stypes.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to patch node %s: %w", nodeName, err)
	}
	return nil
}

func (r *KubeRegistry) Pods(ctx context.Context, nodeName string) ([]Pod, error) {
	list, err := r.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + nodeName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods on %s: %w", nodeName, err)
	}
	pods := make([]Pod, 0, len(list.Items))
	for _, p := range list.Items {
		pods = append(pods, fromKubePod(&p))
	}
	return pods, nil
}

func (r *KubeRegistry) EvictPod(ctx context.Context, namespace, name string) error {
	eviction := &policyv1.Eviction{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	if err := r.client.PolicyV1().Evictions(namespace).Evict(ctx, eviction); err != nil {
		return fmt.Errorf("failed to evict pod %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (r *KubeRegistry) DeleteNode(ctx context.Context, nodeName string) error {
	if err := r.client.CoreV1().Nodes().Delete(ctx, nodeName, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", nodeName, err)
	}
	return nil
}

func (r *KubeRegistry) HasReadyReplicaElsewhere(ctx context.Context, pod Pod, nodeName string) (bool, error) {
	if pod.OwnerUID == "" {
		// Bare pods have no replicas anywhere.
		return false, nil
	}
	list, err := r.client.CoreV1().Pods(pod.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to list pods in %s: %w", pod.Namespace, err)
	}
	for _, candidate := range list.Items {
		if candidate.Spec.NodeName == nodeName || candidate.Name == pod.Name {
			continue
		}
		if !ownedBy(&candidate, pod.OwnerUID) || !podReady(&candidate) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (r *KubeRegistry) DisruptionsAllowed(ctx context.Context, pod Pod) (bool, error) {
	list, err := r.client.PolicyV1().PodDisruptionBudgets(pod.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to list disruption budgets in %s: %w", pod.Namespace, err)
	}
	for _, pdb := range list.Items {
		selector, err := metav1.LabelSelectorAsSelector(pdb.Spec.Selector)
		if err != nil {
			continue
		}
		if selector.Matches(labels.Set(pod.Labels)) && pdb.Status.DisruptionsAllowed < 1 {
			return false, nil
		}
	}
	return true, nil
}

func fromKubeNode(n *corev1.Node) Node {
	node := Node{
		Name:          n.Name,
		Zone:          n.Labels[labelZone],
		Unschedulable: n.Spec.Unschedulable,
		CreatedAt:     n.CreationTimestamp.Time,
		InstanceID:    instanceIDFromProviderID(n.Spec.ProviderID),
	}
	for _, cond := range n.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			node.Ready = cond.Status == corev1.ConditionTrue
		}
	}
	return node
}

// instanceIDFromProviderID parses "aws:///us-east-1a/i-0abc123" down to the
// instance id.
func instanceIDFromProviderID(providerID string) string {
	if providerID == "" {
		return ""
	}
	parts := strings.Split(providerID, "/")
	return parts[len(parts)-1]
}

func fromKubePod(p *corev1.Pod) Pod {
	pod := Pod{
		Name:      p.Name,
		Namespace: p.Namespace,
		Labels:    p.Labels,
		Mirror:    p.Annotations[mirrorPodAnnotation] != "",
		StartedAt: p.CreationTimestamp.Time,
	}
	if ref := metav1.GetControllerOf(p); ref != nil {
		pod.OwnerKind = ref.Kind
		pod.OwnerName = ref.Name
		pod.OwnerUID = string(ref.UID)
		pod.Daemon = ref.Kind == "DaemonSet"
	}
	return pod
}

func ownedBy(p *corev1.Pod, ownerUID string) bool {
	ref := metav1.GetControllerOf(p)
	return ref != nil && string(ref.UID) == ownerUID
}

func podReady(p *corev1.Pod) bool {
	if p.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range p.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
