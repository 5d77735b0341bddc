package k8s

import (
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

const (
	nodeRoleLabelPrefix = "node-role.kubernetes.io/"
	zoneLabel           = "topology.kubernetes.io/zone"
)

func toDomainNode(node *corev1.Node) mirror.Node {
	out := mirror.Node{
		Name:        node.Name,
		Ready:       nodeReady(node),
		Roles:       nodeRoles(node),
		Capacity:    toResourceList(node.Status.Capacity),
		Allocatable: toResourceList(node.Status.Allocatable),
		Labels:      node.Labels,
		Zone:        node.Labels[zoneLabel],
		CreatedAt:   node.CreationTimestamp.Time,
	}

	out.Conditions = make([]mirror.NodeCondition, 0, len(node.Status.Conditions))
	for _, cond := range node.Status.Conditions {
		out.Conditions = append(out.Conditions, mirror.NodeCondition{
			Type:    string(cond.Type),
			Status:  string(cond.Status),
			Reason:  cond.Reason,
			Message: cond.Message,
		})
	}

	return out
}

func toDomainPod(pod *corev1.Pod) mirror.Pod {
	out := mirror.Pod{
		UID:       string(pod.UID),
		Name:      pod.Name,
		Namespace: pod.Namespace,
		NodeName:  pod.Spec.NodeName,
		Phase:     string(pod.Status.Phase),
		Labels:    pod.Labels,
		CreatedAt: pod.CreationTimestamp.Time,
	}

	if pod.DeletionTimestamp != nil {
		t := pod.DeletionTimestamp.Time
		out.DeletedAt = &t
	}

	out.Containers = make([]mirror.ContainerStatus, 0, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		out.Containers = append(out.Containers, mirror.ContainerStatus{
			Name:     cs.Name,
			Ready:    cs.Ready,
			Restarts: cs.RestartCount,
		})
	}

	return out
}

func toDomainNamespace(ns *corev1.Namespace) mirror.Namespace {
	return mirror.Namespace{
		Name:   ns.Name,
		Status: string(ns.Status.Phase),
		Labels: ns.Labels,
	}
}

func toResourceList(list corev1.ResourceList) mirror.ResourceList {
	if len(list) == 0 {
		return nil
	}

	out := make(mirror.ResourceList, len(list))
	for name, qty := range list {
		out[string(name)] = qty.String()
	}

	return out
}

func nodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}

	return false
}

func nodeRoles(node *corev1.Node) []string {
	var roles []string

	for label := range node.Labels {
		if strings.HasPrefix(label, nodeRoleLabelPrefix) {
			if role := strings.TrimPrefix(label, nodeRoleLabelPrefix); role != "" {
				roles = append(roles, role)
			}
		}
	}

	if len(roles) == 0 {
		return []string{"worker"}
	}

	// Label iteration order is random; sorted roles keep repeated
	// conversions of the same node deep-equal.
	slices.Sort(roles)

	return roles
}
