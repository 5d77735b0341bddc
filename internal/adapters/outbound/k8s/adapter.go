package k8s

import (
	"context"
	"fmt"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// Adapter is the control-plane client backed by the Kubernetes API.
// It implements mirror.ControlPlane plus the cluster-identity and
// usage queries of the HTTP surface.
type Adapter struct {
	logger           *slog.Logger
	clientset        kubernetes.Interface
	metricsClientset metricsv.Interface
	clusterName      string
}

// New creates a new control-plane adapter. metricsClientset may be nil
// when the metrics API is unavailable; usage queries then fail.
func New(
	logger *slog.Logger,
	clientset kubernetes.Interface,
	metricsClientset metricsv.Interface,
	clusterName string,
) *Adapter {
	return &Adapter{
		logger:           logger,
		clientset:        clientset,
		metricsClientset: metricsClientset,
		clusterName:      clusterName,
	}
}

var _ mirror.ControlPlane = (*Adapter)(nil)

func (a *Adapter) ListNodesQuery(ctx context.Context) ([]mirror.Node, string, error) {
	nodeList, err := a.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", &ConnectionError{Err: fmt.Errorf("list nodes: %w", err)}
	}

	nodes := make([]mirror.Node, 0, len(nodeList.Items))
	for i := range nodeList.Items {
		nodes = append(nodes, toDomainNode(&nodeList.Items[i]))
	}

	return nodes, nodeList.ResourceVersion, nil
}

func (a *Adapter) ListPodsQuery(ctx context.Context) ([]mirror.Pod, string, error) {
	podList, err := a.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", &ConnectionError{Err: fmt.Errorf("list pods: %w", err)}
	}

	pods := make([]mirror.Pod, 0, len(podList.Items))
	for i := range podList.Items {
		pods = append(pods, toDomainPod(&podList.Items[i]))
	}

	return pods, podList.ResourceVersion, nil
}

func (a *Adapter) ListNamespacesQuery(ctx context.Context) ([]mirror.Namespace, string, error) {
	nsList, err := a.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", &ConnectionError{Err: fmt.Errorf("list namespaces: %w", err)}
	}

	namespaces := make([]mirror.Namespace, 0, len(nsList.Items))
	for i := range nsList.Items {
		namespaces = append(namespaces, toDomainNamespace(&nsList.Items[i]))
	}

	return namespaces, nsList.ResourceVersion, nil
}

// ClusterInfoQuery resolves the mirrored cluster's display name and
// server version for the subscriber handshake.
func (a *Adapter) ClusterInfoQuery(ctx context.Context) mirror.ClusterInfo {
	info := mirror.ClusterInfo{Name: a.clusterName}

	version, err := a.clientset.Discovery().ServerVersion()
	if err != nil {
		a.logger.WarnContext(ctx, "server version unavailable", "reason", err)

		return info
	}

	info.Version = version.GitVersion

	return info
}
