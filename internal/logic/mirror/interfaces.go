package mirror

import "context"

// WatchNotification is one raw change delivered by a control-plane
// stream, already converted to the normalized entity shapes. Exactly
// one payload pointer is set, matching the kind the stream was opened
// for.
type WatchNotification struct {
	Action    Action
	Node      *Node
	Pod       *Pod
	Namespace *Namespace
}

// ControlPlane is the port interface for the remote control-plane
// client. Implementations are provided by adapters in the outbound
// layer.
type ControlPlane interface {
	// ListNodesQuery returns all nodes and the list's resource-version
	// cursor, used to open a watch without replaying history.
	ListNodesQuery(ctx context.Context) ([]Node, string, error)

	ListPodsQuery(ctx context.Context) ([]Pod, string, error)

	ListNamespacesQuery(ctx context.Context) ([]Namespace, string, error)

	// WatchQuery opens a stream of changes after fromCursor for one
	// kind. The returned channel is closed on any stream termination;
	// the caller treats closure as stream loss and re-lists.
	WatchQuery(ctx context.Context, kind Kind, fromCursor string) (<-chan WatchNotification, error)
}

// EventSink receives normalized deltas after they have been applied to
// the store. The broadcast layer implements it.
type EventSink interface {
	Publish(evt Event)
}
