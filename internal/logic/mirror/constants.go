package mirror

// eventBufferSize bounds the coordinator-to-processor channel. Store
// application is lock-only, so the buffer absorbs short bursts without
// stalling the per-kind stream readers.
const eventBufferSize = 256

// StreamState is the per-kind coordinator state, exposed for the
// status surface.
type StreamState string

const (
	StreamIdle      StreamState = "Idle"
	StreamListing   StreamState = "Listing"
	StreamStreaming StreamState = "Streaming"
	StreamBackoff   StreamState = "Backoff"
	StreamStopped   StreamState = "Stopped"
)
