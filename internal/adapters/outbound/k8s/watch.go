package k8s

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// WatchQuery opens one streaming subscription for a kind, resuming
// after fromCursor. The returned channel closes on any stream
// termination, which the coordinator treats as stream loss.
func (a *Adapter) WatchQuery(
	ctx context.Context,
	kind mirror.Kind,
	fromCursor string,
) (<-chan mirror.WatchNotification, error) {
	opts := metav1.ListOptions{ResourceVersion: fromCursor}

	var (
		watcher watch.Interface
		err     error
	)

	switch kind {
	case mirror.KindNode:
		watcher, err = a.clientset.CoreV1().Nodes().Watch(ctx, opts)
	case mirror.KindPod:
		watcher, err = a.clientset.CoreV1().Pods(metav1.NamespaceAll).Watch(ctx, opts)
	case mirror.KindNamespace:
		watcher, err = a.clientset.CoreV1().Namespaces().Watch(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("watch %s: %w", kind, err)}
	}

	ch := make(chan mirror.WatchNotification)

	go a.pump(ctx, kind, watcher, ch)

	return ch, nil
}

// pump converts raw watch events into normalized notifications,
// preserving wire order. Exits (closing ch) on stream end, a remote
// error event, or context cancellation.
func (a *Adapter) pump(
	ctx context.Context,
	kind mirror.Kind,
	watcher watch.Interface,
	ch chan<- mirror.WatchNotification,
) {
	logger := a.logger.With("kind", string(kind))

	defer close(ch)
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.ResultChan():
			if !ok {
				logger.DebugContext(ctx, "watch stream ended")

				return
			}

			var action mirror.Action

			switch event.Type {
			case watch.Added:
				action = mirror.ActionAdded
			case watch.Modified:
				action = mirror.ActionModified
			case watch.Deleted:
				action = mirror.ActionDeleted
			case watch.Bookmark:
				continue
			case watch.Error:
				logger.WarnContext(ctx, "watch error event, terminating stream", "object", event.Object)

				return
			default:
				continue
			}

			notification, ok := toNotification(action, event.Object)
			if !ok {
				logger.WarnContext(ctx, "unexpected object type in watch event, skipping")

				continue
			}

			select {
			case ch <- notification:
			case <-ctx.Done():
				return
			}
		}
	}
}

func toNotification(action mirror.Action, object runtime.Object) (mirror.WatchNotification, bool) {
	out := mirror.WatchNotification{Action: action}

	switch obj := object.(type) {
	case *corev1.Node:
		node := toDomainNode(obj)
		out.Node = &node
	case *corev1.Pod:
		pod := toDomainPod(obj)
		out.Pod = &pod
	case *corev1.Namespace:
		ns := toDomainNamespace(obj)
		out.Namespace = &ns
	default:
		return mirror.WatchNotification{}, false
	}

	return out, true
}
