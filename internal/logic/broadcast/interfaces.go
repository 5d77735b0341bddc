package broadcast

import (
	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// Conn is the minimal transport surface of one subscriber connection.
// The httpserver layer adapts a WebSocket connection to it; tests use
// in-memory fakes.
type Conn interface {
	// WriteJSON marshals and sends one protocol frame.
	WriteJSON(v any) error

	// ReadJSON blocks for the next inbound frame and unmarshals it.
	ReadJSON(v any) error

	// Close sends a close frame with the given status code and reason
	// and tears down the transport. Safe to call more than once.
	Close(code int, reason string) error
}

// StateSource is the read surface of the store the manager needs for
// the initial push and the periodic metrics frame.
type StateSource interface {
	Snapshot() mirror.Snapshot
	Metrics() mirror.Metrics
}
