package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand"
	"sync"
	"time"

	"github.com/clusterlens/clusterlens/internal/infra/metrics"
)

// resyncScheduler computes the next scheduled forced-resync time. The
// cronparser infra package satisfies it.
type resyncScheduler interface {
	NextAfter(spec, tz string, after time.Time) (time.Time, error)
}

var (
	errStreamClosed    = errors.New("watch stream closed")
	errScheduledResync = errors.New("scheduled resync due")
)

// Coordinator maintains exactly one streaming subscription per
// resource kind against the control plane. Each kind runs the state
// machine Idle -> Listing -> Streaming -> Backoff -> Listing -> ... ->
// Stopped. After any stream loss the cursor is discarded and a full
// re-list is queued for the processor to reconcile, because the remote
// may have compacted history past the cursor.
type Coordinator struct {
	logger  *slog.Logger
	cp      ControlPlane
	backoff BackoffConfig

	// Optional cron-driven forced resync; disabled when resyncSpec is
	// empty.
	cron       resyncScheduler
	resyncSpec string
	resyncTZ   string

	events chan Event

	mu     sync.Mutex
	states map[Kind]StreamState

	rng      *rand.Rand
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCoordinator creates a coordinator. cron may be nil when no resync
// schedule is configured.
func NewCoordinator(
	logger *slog.Logger,
	cp ControlPlane,
	backoff BackoffConfig,
	cron resyncScheduler,
	resyncSpec string,
	resyncTZ string,
) *Coordinator {
	states := make(map[Kind]StreamState, len(Kinds))
	for _, kind := range Kinds {
		states[kind] = StreamIdle
	}

	return &Coordinator{
		logger:     logger,
		cp:         cp,
		backoff:    backoff,
		cron:       cron,
		resyncSpec: resyncSpec,
		resyncTZ:   resyncTZ,
		events:     make(chan Event, eventBufferSize),
		states:     states,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:     make(chan struct{}),
	}
}

// Events returns the delta channel consumed by the event processor.
// It is closed after Stop once every per-kind goroutine has exited.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// States returns a copy of the per-kind stream states.
func (c *Coordinator) States() map[Kind]StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return maps.Clone(c.states)
}

// Start launches one stream goroutine per kind. cursors carries the
// resource-version seeds from the processor's initial listing; a kind
// with an empty cursor re-lists before streaming.
func (c *Coordinator) Start(ctx context.Context, cursors map[Kind]string) {
	for _, kind := range Kinds {
		c.wg.Add(1)

		go func(kind Kind, cursor string) {
			defer c.wg.Done()

			c.runKind(ctx, kind, cursor)
		}(kind, cursors[kind])
	}

	go func() {
		c.wg.Wait()
		close(c.events)
	}()
}

// Stop requests termination of every stream and waits for the per-kind
// goroutines to exit. The Stopped state is terminal; no reconnection
// happens afterwards.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("stop watch coordinator: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (c *Coordinator) runKind(ctx context.Context, kind Kind, cursor string) {
	logger := c.logger.With("kind", string(kind))
	attempt := 0

	defer c.setState(kind, StreamStopped)

	for {
		if c.stopping(ctx) {
			logger.InfoContext(ctx, "stream stopped")

			return
		}

		if cursor == "" {
			c.setState(kind, StreamListing)

			newCursor, err := c.relist(ctx, kind)
			if err != nil {
				if c.stopping(ctx) {
					return
				}

				attempt++
				logger.WarnContext(ctx, "re-list failed", "attempt", attempt, "reason", err)

				if !c.waitBackoff(ctx, kind, attempt) {
					return
				}

				continue
			}

			cursor = newCursor
			attempt = 0
		}

		c.setState(kind, StreamStreaming)

		err := c.stream(ctx, kind, cursor)
		cursor = ""

		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, ErrCoordinatorStopped):
			return
		case errors.Is(err, errScheduledResync):
			logger.InfoContext(ctx, "scheduled resync, re-listing")
		default:
			attempt++
			metrics.RecordWatchRestart(string(kind))
			logger.WarnContext(ctx, "stream lost", "attempt", attempt, "reason", err)

			if !c.waitBackoff(ctx, kind, attempt) {
				return
			}
		}
	}
}

// stream consumes one watch session. It returns errStreamClosed on any
// remote termination, errScheduledResync when the cron schedule fires,
// or a stop/cancel error.
func (c *Coordinator) stream(ctx context.Context, kind Kind, cursor string) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := c.cp.WatchQuery(watchCtx, kind, cursor)
	if err != nil {
		return fmt.Errorf("open watch: %w", err)
	}

	var resyncCh <-chan time.Time

	if c.resyncSpec != "" && c.cron != nil {
		next, err := c.cron.NextAfter(c.resyncSpec, c.resyncTZ, time.Now())
		if err != nil {
			c.logger.WarnContext(ctx, "bad resync schedule, ignoring",
				"spec", c.resyncSpec, "reason", err)
		} else {
			timer := time.NewTimer(time.Until(next))
			defer timer.Stop()

			resyncCh = timer.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrCoordinatorStopped
		case <-resyncCh:
			return errScheduledResync
		case notification, ok := <-ch:
			if !ok {
				return errStreamClosed
			}

			if !c.send(ctx, notificationToEvent(kind, notification)) {
				return ErrCoordinatorStopped
			}
		}
	}
}

// resyncListing is a full re-listing of one kind, queued through the
// event channel behind whatever the lost stream already delivered. The
// processor diffs it against the store only after applying that
// backlog, so reconciliation never races events from before the loss.
type resyncListing struct {
	kind       Kind
	nodes      []Node
	pods       []Pod
	namespaces []Namespace
}

// relist fetches a full listing for one kind and queues it for
// reconciliation through the same channel as live notifications.
// Returns the fresh cursor.
func (c *Coordinator) relist(ctx context.Context, kind Kind) (string, error) {
	metrics.RecordRelist(string(kind))

	listing := &resyncListing{kind: kind}

	var cursor string

	switch kind {
	case KindNode:
		fresh, freshCursor, err := c.cp.ListNodesQuery(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrListNodes, err)
		}

		listing.nodes, cursor = fresh, freshCursor
	case KindPod:
		fresh, freshCursor, err := c.cp.ListPodsQuery(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrListPods, err)
		}

		listing.pods, cursor = fresh, freshCursor
	case KindNamespace:
		fresh, freshCursor, err := c.cp.ListNamespacesQuery(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrListNamespaces, err)
		}

		listing.namespaces, cursor = fresh, freshCursor
	}

	if !c.send(ctx, Event{Kind: kind, resync: listing}) {
		return "", ErrCoordinatorStopped
	}

	return cursor, nil
}

func (c *Coordinator) send(ctx context.Context, evt Event) bool {
	select {
	case c.events <- evt:
		return true
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	}
}

// waitBackoff sleeps the exponential reconnect delay. Returns false
// when the wait was cut short by stop or cancellation.
func (c *Coordinator) waitBackoff(ctx context.Context, kind Kind, attempt int) bool {
	c.setState(kind, StreamBackoff)

	delay := NextBackoffDelay(c.backoff, attempt, c.rng)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	}
}

func (c *Coordinator) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Coordinator) setState(kind Kind, state StreamState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[kind] = state
}

func notificationToEvent(kind Kind, n WatchNotification) Event {
	return Event{
		Kind:      kind,
		Action:    n.Action,
		Node:      n.Node,
		Pod:       n.Pod,
		Namespace: n.Namespace,
	}
}
