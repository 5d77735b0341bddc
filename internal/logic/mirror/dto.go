package mirror

import (
	"time"
)

// Kind identifies a tracked resource kind.
type Kind string

const (
	KindNode      Kind = "node"
	KindPod       Kind = "pod"
	KindNamespace Kind = "namespace"
)

// Kinds lists every tracked resource kind. The coordinator runs one
// stream per entry.
var Kinds = []Kind{KindNode, KindPod, KindNamespace}

// Action is the normalized watch notification action.
type Action string

const (
	ActionAdded    Action = "Added"
	ActionModified Action = "Modified"
	ActionDeleted  Action = "Deleted"
)

// ConnectionStatus reflects the health of the control-plane link as
// observed by the event processor.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "Disconnected"
	StatusConnecting   ConnectionStatus = "Connecting"
	StatusConnected    ConnectionStatus = "Connected"
	StatusError        ConnectionStatus = "Error"
)

// ResourceList holds resource quantities as canonical strings
// (e.g. "4", "16Gi"). Keys are resource names: cpu, memory, pods.
type ResourceList map[string]string

// NodeCondition is one entry of a node's condition list.
type NodeCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Node is the normalized cluster node shape. Identity is Name.
type Node struct {
	Name        string            `json:"name"`
	Ready       bool              `json:"ready"`
	Roles       []string          `json:"roles"`
	Capacity    ResourceList      `json:"capacity"`
	Allocatable ResourceList      `json:"allocatable"`
	Conditions  []NodeCondition   `json:"conditions"`
	Labels      map[string]string `json:"labels,omitempty"`
	Zone        string            `json:"zone,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// ContainerStatus is a per-container readiness entry of a pod.
type ContainerStatus struct {
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Restarts int32  `json:"restarts"`
}

// Pod is the normalized pod shape. Identity is UID, which is stable
// across node reassignment. UID and Namespace never change after
// creation; NodeName may.
type Pod struct {
	UID        string            `json:"uid"`
	Name       string            `json:"name"`
	Namespace  string            `json:"namespace"`
	NodeName   string            `json:"nodeName,omitempty"`
	Phase      string            `json:"phase"`
	Containers []ContainerStatus `json:"containers,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	DeletedAt  *time.Time        `json:"deletedAt,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Terminating reports whether the pod carries a deletion timestamp.
func (p Pod) Terminating() bool {
	return p.DeletedAt != nil
}

// Namespace is the normalized namespace shape. Identity is Name.
// PodCount is maintained by the store and always equals the number of
// pods currently indexed under the namespace.
type Namespace struct {
	Name     string            `json:"name"`
	Status   string            `json:"status"`
	PodCount int               `json:"podCount"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Metrics are aggregate counts derived from the store's primary maps.
// They are recomputed after every mutation, never incremented
// independently of the maps.
type Metrics struct {
	TotalNodes      int            `json:"totalNodes"`
	ReadyNodes      int            `json:"readyNodes"`
	NotReadyNodes   int            `json:"notReadyNodes"`
	TotalPods       int            `json:"totalPods"`
	PodsByPhase     map[string]int `json:"podsByPhase"`
	TotalNamespaces int            `json:"totalNamespaces"`
}

// Event is one normalized delta flowing from the processor to the
// broadcast layer. Exactly one of Node, Pod, Namespace is set,
// matching Kind. For Deleted events the payload carries at least the
// identity fields.
type Event struct {
	Kind      Kind       `json:"kind"`
	Action    Action     `json:"action"`
	Node      *Node      `json:"node,omitempty"`
	Pod       *Pod       `json:"pod,omitempty"`
	Namespace *Namespace `json:"namespace,omitempty"`

	// resync carries a full re-listing instead of a single delta. The
	// processor reconciles it on the apply goroutine and publishes the
	// resulting deltas; a resync event itself never reaches the sink.
	resync *resyncListing
}

// EventNamespace returns the namespace an event is scoped to, or ""
// for cluster-scoped events (nodes).
func (e Event) EventNamespace() string {
	switch e.Kind {
	case KindPod:
		if e.Pod != nil {
			return e.Pod.Namespace
		}
	case KindNamespace:
		if e.Namespace != nil {
			return e.Namespace.Name
		}
	}

	return ""
}

// Snapshot is an immutable point-in-time copy of the full store state,
// used for the initial push to new subscribers and the one-shot query
// surface. Slices are sorted by identity for stable output.
type Snapshot struct {
	Nodes            []Node           `json:"nodes"`
	Pods             []Pod            `json:"pods"`
	Namespaces       []Namespace      `json:"namespaces"`
	Metrics          Metrics          `json:"metrics"`
	LastUpdated      time.Time        `json:"lastUpdated"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
}

// ClusterInfo identifies the mirrored cluster in the subscriber
// connection handshake.
type ClusterInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Usage is a live aggregate of node resource consumption from the
// metrics API. It is served on demand and is not part of Metrics,
// which must stay derivable from the store maps alone.
type Usage struct {
	SampledAt   time.Time `json:"sampledAt"`
	Nodes       int       `json:"nodes"`
	CPUMilli    int64     `json:"cpuMilli"`
	MemoryBytes int64     `json:"memoryBytes"`
}
