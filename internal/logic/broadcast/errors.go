package broadcast

import "errors"

var (
	ErrShuttingDown = errors.New("broadcast manager is shutting down")
	ErrUnauthorized = errors.New("subscriber unauthorized")
)
