package k8s

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// ClusterUsageQuery aggregates live node CPU and memory consumption
// from the metrics API. Kept separate from the store's derived
// metrics, which are computed from mirrored state alone.
func (a *Adapter) ClusterUsageQuery(ctx context.Context) (mirror.Usage, error) {
	if a.metricsClientset == nil {
		return mirror.Usage{}, fmt.Errorf("metrics API not configured")
	}

	nodeMetrics, err := a.metricsClientset.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return mirror.Usage{}, fmt.Errorf("list node metrics: %w", err)
	}

	usage := mirror.Usage{
		SampledAt: time.Now().UTC(),
		Nodes:     len(nodeMetrics.Items),
	}

	for i := range nodeMetrics.Items {
		item := &nodeMetrics.Items[i]
		usage.CPUMilli += item.Usage.Cpu().MilliValue()
		usage.MemoryBytes += item.Usage.Memory().Value()
	}

	return usage, nil
}
