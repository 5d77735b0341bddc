package mirror

import "errors"

var (
	ErrListNodes          = errors.New("list nodes")
	ErrListPods           = errors.New("list pods")
	ErrListNamespaces     = errors.New("list namespaces")
	ErrCoordinatorStopped = errors.New("watch coordinator stopped")
)
