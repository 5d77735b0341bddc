package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/clusterlens/clusterlens/internal/infra/metrics"
	"github.com/clusterlens/clusterlens/internal/infra/shutdown"
)

// Processor is the single owner of store mutation. It bootstraps the
// store with a full listing of every kind, starts the coordinator, and
// then drains the coordinator's delta channel in one goroutine,
// applying each event to the store before forwarding it to the sink.
// Exactly one processor exists per process.
type Processor struct {
	logger      *slog.Logger
	cp          ControlPlane
	store       *Store
	coordinator *Coordinator
	sink        EventSink

	ready      chan struct{}
	doneCh     chan struct{}
	inShutdown atomic.Bool
}

// NewProcessor creates an event processor. It owns the coordinator's
// lifecycle and stops it on its own shutdown.
func NewProcessor(
	logger *slog.Logger,
	cp ControlPlane,
	store *Store,
	coordinator *Coordinator,
	sink EventSink,
) *Processor {
	return &Processor{
		logger:      logger,
		cp:          cp,
		store:       store,
		coordinator: coordinator,
		sink:        sink,
		ready:       make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

var _ shutdown.Shutdowner = (*Processor)(nil)

// Name returns the name of the processor component.
func (p *Processor) Name() string {
	return "event-processor"
}

// Start performs the initial list for every kind, applies the results
// to the store, starts the coordinator from the seeded cursors, and
// only then signals readiness. A list failure for any kind aborts
// initialization; partial state is never exposed as ready.
func (p *Processor) Start(ctx context.Context) error {
	if p.inShutdown.Load() {
		p.logger.InfoContext(ctx, "event processor is shutting down, skipping start")

		return nil
	}

	p.store.SetConnectionStatus(StatusConnecting)

	cursors, err := p.bootstrap(ctx)
	if err != nil {
		p.store.SetConnectionStatus(StatusError)

		return fmt.Errorf("bootstrap store: %w", err)
	}

	p.coordinator.Start(ctx, cursors)
	p.store.SetConnectionStatus(StatusConnected)

	go p.run(ctx)

	close(p.ready)
	p.logger.InfoContext(ctx, "initial sync complete",
		"nodes", p.store.Metrics().TotalNodes,
		"pods", p.store.Metrics().TotalPods,
		"namespaces", p.store.Metrics().TotalNamespaces,
	)

	return nil
}

// Ready returns a channel closed once every kind has been listed and
// applied.
func (p *Processor) Ready() <-chan struct{} {
	return p.ready
}

// Ping reports processor health: unready before the initial sync, and
// an error if the apply loop exited while the processor is not
// shutting down.
func (p *Processor) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ready:
	default:
		return fmt.Errorf("event processor is not ready")
	}

	select {
	case <-p.doneCh:
		if !p.inShutdown.Load() {
			return fmt.Errorf("event apply loop exited unexpectedly")
		}
	default:
	}

	return nil
}

// Shutdown stops the coordinator, waits for the apply loop to drain,
// and marks the mirror disconnected.
func (p *Processor) Shutdown(ctx context.Context) error {
	if !p.inShutdown.CompareAndSwap(false, true) {
		p.logger.ErrorContext(ctx, "event processor is already shutting down, skipping shutdown")

		return nil
	}

	p.logger.InfoContext(ctx, "shutting down event processor")

	if err := p.coordinator.Stop(ctx); err != nil {
		return fmt.Errorf("event processor shutdown: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context done before apply loop exited: %w", ctx.Err())
	case <-p.doneCh:
	}

	p.store.SetConnectionStatus(StatusDisconnected)
	p.logger.InfoContext(ctx, "event processor shut down")

	return nil
}

// bootstrap lists every kind and applies the results directly to the
// store. Returns the resource-version cursors to seed the streams.
func (p *Processor) bootstrap(ctx context.Context) (map[Kind]string, error) {
	cursors := make(map[Kind]string, len(Kinds))

	nodes, nodeCursor, err := p.cp.ListNodesQuery(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListNodes, err)
	}

	for _, node := range nodes {
		p.store.UpsertNode(node)
	}

	cursors[KindNode] = nodeCursor

	namespaces, nsCursor, err := p.cp.ListNamespacesQuery(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListNamespaces, err)
	}

	for _, ns := range namespaces {
		p.store.UpsertNamespace(ns)
	}

	cursors[KindNamespace] = nsCursor

	pods, podCursor, err := p.cp.ListPodsQuery(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListPods, err)
	}

	for _, pod := range pods {
		p.store.UpsertPod(pod)
	}

	cursors[KindPod] = podCursor

	return cursors, nil
}

// run is the single store-mutating goroutine. Per-kind wire order is
// preserved because each coordinator stream sends sequentially into
// one channel; resync deltas arrive on the same channel and are
// indistinguishable downstream from organic changes.
func (p *Processor) run(ctx context.Context) {
	defer close(p.doneCh)

	logger := p.logger.With("component", "apply-loop")

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "terminating apply loop")

			return
		case evt, ok := <-p.coordinator.Events():
			if !ok {
				logger.InfoContext(ctx, "coordinator channel closed, terminating apply loop")

				return
			}

			if evt.resync != nil {
				p.reconcile(ctx, evt.resync)

				continue
			}

			if !p.apply(ctx, evt) {
				continue
			}

			p.forward(evt)
		}
	}
}

// reconcile diffs a full re-listing against the store, then applies
// and publishes the resulting deltas. It runs on the apply goroutine,
// after every event the lost stream delivered before the listing was
// queued has been applied, so the diff always sees settled state.
func (p *Processor) reconcile(ctx context.Context, listing *resyncListing) {
	var deltas []Event

	switch listing.kind {
	case KindNode:
		deltas = DiffNodes(p.store.NodeMap(), listing.nodes)
	case KindPod:
		deltas = DiffPods(p.store.PodMap(), listing.pods)
	case KindNamespace:
		deltas = DiffNamespaces(p.store.NamespaceMap(), listing.namespaces)
	}

	for _, delta := range deltas {
		if !p.apply(ctx, delta) {
			continue
		}

		p.forward(delta)
	}
}

// forward publishes one applied delta. Namespace payloads are re-read
// from the store first so they carry the maintained pod count, which
// the wire conversion cannot know.
func (p *Processor) forward(evt Event) {
	if evt.Kind == KindNamespace && evt.Action != ActionDeleted {
		if ns, ok := p.store.GetNamespace(evt.Namespace.Name); ok {
			evt.Namespace = &ns
		}
	}

	metrics.RecordEventApplied(string(evt.Kind), string(evt.Action))
	p.sink.Publish(evt)
}

// apply mutates the store for one event. Events without a payload are
// dropped and never reach the sink.
func (p *Processor) apply(ctx context.Context, evt Event) bool {
	switch evt.Kind {
	case KindNode:
		if evt.Node == nil {
			p.logger.WarnContext(ctx, "node event without payload, dropping", "action", evt.Action)

			return false
		}

		if evt.Action == ActionDeleted {
			p.store.DeleteNode(evt.Node.Name)
		} else {
			p.store.UpsertNode(*evt.Node)
		}
	case KindPod:
		if evt.Pod == nil {
			p.logger.WarnContext(ctx, "pod event without payload, dropping", "action", evt.Action)

			return false
		}

		if evt.Action == ActionDeleted {
			p.store.DeletePod(evt.Pod.UID)
		} else {
			p.store.UpsertPod(*evt.Pod)
		}
	case KindNamespace:
		if evt.Namespace == nil {
			p.logger.WarnContext(ctx, "namespace event without payload, dropping", "action", evt.Action)

			return false
		}

		if evt.Action == ActionDeleted {
			p.store.DeleteNamespace(evt.Namespace.Name)
		} else {
			p.store.UpsertNamespace(*evt.Namespace)
		}
	}

	return true
}
