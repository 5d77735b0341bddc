package broadcast

import "time"

// WebSocket close status codes (RFC 6455). Kept as plain ints so the
// manager does not depend on the transport library.
const (
	closeGoingAway       = 1001
	closePolicyViolation = 1008
	closeTryAgainLater   = 1013
)

const (
	// sendBufferSize bounds each subscriber's outbound queue. A
	// subscriber whose buffer fills is dropped rather than allowed to
	// stall fan-out to the rest.
	sendBufferSize = 64

	defaultPingInterval    = 15 * time.Second
	defaultPongTimeout     = 30 * time.Second
	defaultMetricsInterval = 10 * time.Second
)
