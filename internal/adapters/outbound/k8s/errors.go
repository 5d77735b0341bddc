package k8s

// ConnectionError represents a control-plane transport failure. The
// watch coordinator interprets it as a stream-loss event and retries
// with backoff.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "control plane connection: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) IsConnectionError() {}
