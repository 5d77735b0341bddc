package broadcast

import (
	"time"

	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// MessageType enumerates the subscriber wire protocol message types.
type MessageType string

const (
	TypeConnection     MessageType = "connection"
	TypeInitialState   MessageType = "initial_state"
	TypeNodeEvent      MessageType = "node_event"
	TypePodEvent       MessageType = "pod_event"
	TypeNamespaceEvent MessageType = "namespace_event"
	TypeMetrics        MessageType = "metrics"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
	TypeError          MessageType = "error"
)

// Message is one JSON frame of the subscriber protocol. Every frame
// carries Type and Timestamp; the remaining fields depend on the type.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`

	// connection
	Status  string              `json:"status,omitempty"`
	Cluster *mirror.ClusterInfo `json:"cluster,omitempty"`

	// initial_state
	Nodes      []mirror.Node      `json:"nodes,omitempty"`
	Pods       []mirror.Pod       `json:"pods,omitempty"`
	Namespaces []mirror.Namespace `json:"namespaces,omitempty"`

	// node_event / pod_event / namespace_event
	Action mirror.Action `json:"action,omitempty"`
	Data   any           `json:"data,omitempty"`

	// metrics
	Metrics *mirror.Metrics `json:"metrics,omitempty"`

	// error
	Code   string `json:"code,omitempty"`
	Reason string `json:"message,omitempty"`
}

func newConnectionMessage(status string, cluster mirror.ClusterInfo) Message {
	return Message{
		Type:      TypeConnection,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Cluster:   &cluster,
	}
}

func newInitialStateMessage(snap mirror.Snapshot) Message {
	// Nil slices would serialize as null; subscribers expect arrays.
	nodes := snap.Nodes
	if nodes == nil {
		nodes = []mirror.Node{}
	}

	pods := snap.Pods
	if pods == nil {
		pods = []mirror.Pod{}
	}

	namespaces := snap.Namespaces
	if namespaces == nil {
		namespaces = []mirror.Namespace{}
	}

	return Message{
		Type:       TypeInitialState,
		Timestamp:  time.Now().UTC(),
		Nodes:      nodes,
		Pods:       pods,
		Namespaces: namespaces,
	}
}

func newEventMessage(evt mirror.Event) Message {
	msg := Message{
		Timestamp: time.Now().UTC(),
		Action:    evt.Action,
	}

	switch evt.Kind {
	case mirror.KindNode:
		msg.Type = TypeNodeEvent
		msg.Data = evt.Node
	case mirror.KindPod:
		msg.Type = TypePodEvent
		msg.Data = evt.Pod
	case mirror.KindNamespace:
		msg.Type = TypeNamespaceEvent
		msg.Data = evt.Namespace
	}

	return msg
}

func newMetricsMessage(m mirror.Metrics) Message {
	return Message{
		Type:      TypeMetrics,
		Timestamp: time.Now().UTC(),
		Metrics:   &m,
	}
}

func newPingMessage() Message {
	return Message{Type: TypePing, Timestamp: time.Now().UTC()}
}

func newPongMessage() Message {
	return Message{Type: TypePong, Timestamp: time.Now().UTC()}
}

func newErrorMessage(code, reason string) Message {
	return Message{
		Type:      TypeError,
		Timestamp: time.Now().UTC(),
		Code:      code,
		Reason:    reason,
	}
}
