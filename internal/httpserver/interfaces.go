package httpserver

import (
	"context"
	"time"

	"github.com/clusterlens/clusterlens/internal/infra/pinger"
	"github.com/clusterlens/clusterlens/internal/logic/broadcast"
	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// stateReader is the read-only store surface for the one-shot query
// endpoints.
type stateReader interface {
	Snapshot() mirror.Snapshot
	Metrics() mirror.Metrics
	ConnectionStatus() mirror.ConnectionStatus
	LastUpdated() time.Time
	ListByNode(nodeName string) []mirror.Pod
	ListByNamespace(namespace string) []mirror.Pod
}

// readier exposes initialization completion.
type readier interface {
	Ready() <-chan struct{}
}

// healther exposes component health probe results.
type healther interface {
	Healthy() bool
	AllStats() map[string]pinger.Stats
}

// subscriber accepts stream connections.
type subscriberManager interface {
	Subscribe(ctx context.Context, conn broadcast.Conn, token string, namespaces []string) error
	SubscriberCount() int
}

// usageQuerier samples live resource consumption from the metrics API.
type usageQuerier interface {
	ClusterUsageQuery(ctx context.Context) (mirror.Usage, error)
}

// streamStater exposes the per-kind coordinator states.
type streamStater interface {
	States() map[mirror.Kind]mirror.StreamState
}
