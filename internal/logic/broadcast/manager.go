package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clusterlens/clusterlens/internal/auth"
	"github.com/clusterlens/clusterlens/internal/infra/metrics"
	"github.com/clusterlens/clusterlens/internal/infra/shutdown"
	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// Config carries the manager's heartbeat and metrics-push intervals.
// Zero values fall back to defaults.
type Config struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	MetricsInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}

	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}

	if c.MetricsInterval <= 0 {
		c.MetricsInterval = defaultMetricsInterval
	}

	return c
}

// Manager tracks connected subscribers, pushes the initial snapshot on
// connect, fans out deltas, runs the heartbeat, and enforces
// per-connection authorization and namespace filters. Fan-out is
// independent per subscriber: a stalled one is dropped, never waited
// on.
type Manager struct {
	logger    *slog.Logger
	validator auth.Validator
	state     StateSource
	cluster   mirror.ClusterInfo
	cfg       Config

	mu   sync.RWMutex
	subs map[string]*subscriber

	nextID     atomic.Uint64
	inShutdown atomic.Bool
	doneCh     chan struct{}
}

// NewManager creates a broadcast manager.
func NewManager(
	logger *slog.Logger,
	validator auth.Validator,
	state StateSource,
	cluster mirror.ClusterInfo,
	cfg Config,
) *Manager {
	return &Manager{
		logger:    logger,
		validator: validator,
		state:     state,
		cluster:   cluster,
		cfg:       cfg.withDefaults(),
		subs:      make(map[string]*subscriber),
		doneCh:    make(chan struct{}),
	}
}

var (
	_ mirror.EventSink    = (*Manager)(nil)
	_ shutdown.Shutdowner = (*Manager)(nil)
)

// Name returns the name of the broadcast manager component.
func (m *Manager) Name() string {
	return "broadcast-manager"
}

// Start launches the heartbeat and metrics-push loop.
func (m *Manager) Start(ctx context.Context) error {
	if m.inShutdown.Load() {
		m.logger.InfoContext(ctx, "broadcast manager is shutting down, skipping start")

		return nil
	}

	go m.run(ctx)

	return nil
}

// Ping reports whether the manager loop is alive.
func (m *Manager) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.doneCh:
		if !m.inShutdown.Load() {
			return fmt.Errorf("broadcast loop exited unexpectedly")
		}

		return nil
	default:
		return nil
	}
}

// Shutdown closes every subscriber with a going-away frame and waits
// for the heartbeat loop to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.inShutdown.CompareAndSwap(false, true) {
		m.logger.ErrorContext(ctx, "broadcast manager is already shutting down, skipping shutdown")

		return nil
	}

	m.logger.InfoContext(ctx, "shutting down broadcast manager")

	m.mu.Lock()
	subs := make([]*subscriber, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}

	m.subs = make(map[string]*subscriber)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close(closeGoingAway, "server shutting down")
	}

	metrics.SetSubscribers(0)

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context done before broadcast loop exited: %w", ctx.Err())
	case <-m.doneCh:
	}

	m.logger.InfoContext(ctx, "broadcast manager shut down")

	return nil
}

// Subscribe authorizes the connection, pushes the handshake and
// initial snapshot, registers the subscriber, and then serves its read
// side until the connection ends. An authorization failure closes the
// connection with a policy-violation frame before any state is sent.
func (m *Manager) Subscribe(ctx context.Context, conn Conn, token string, namespaces []string) error {
	if m.inShutdown.Load() {
		_ = conn.Close(closeGoingAway, "server shutting down")

		return ErrShuttingDown
	}

	identity, err := m.validator.Validate(token)
	if err != nil {
		metrics.RecordAuthFailure()
		_ = conn.Close(closePolicyViolation, "unauthorized: invalid or missing token")

		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	id := strconv.FormatUint(m.nextID.Add(1), 10)
	sub := newSubscriber(id, identity, conn, namespaces, m.logger)

	// The snapshot and the registration happen under one lock so no
	// delta published after the snapshot can be missed: Publish takes
	// the same lock and the store is mutated before Publish is called.
	m.mu.Lock()
	snap := m.state.Snapshot()
	sub.enqueue(newConnectionMessage(string(snap.ConnectionStatus), m.cluster))
	sub.enqueue(newInitialStateMessage(snap))
	m.subs[id] = sub
	count := len(m.subs)
	m.mu.Unlock()

	metrics.SetSubscribers(count)
	metrics.RecordBroadcastSent(string(TypeConnection))
	metrics.RecordBroadcastSent(string(TypeInitialState))
	sub.logger.InfoContext(ctx, "subscriber connected",
		"filter", namespaces,
		"total", count,
	)

	go sub.writePump()

	// Serve the read side in the caller's goroutine; returns when the
	// peer disconnects or the subscriber is closed.
	done := make(chan struct{})

	go func() {
		defer close(done)

		sub.readLoop()
	}()

	select {
	case <-ctx.Done():
	case <-done:
	case <-sub.done:
	}

	m.remove(id, closeGoingAway, "connection ended")

	return nil
}

// Publish fans out one delta to every subscriber whose filter matches.
// Implements mirror.EventSink. Called from the processor's apply
// goroutine; must never block on a slow subscriber.
func (m *Manager) Publish(evt mirror.Event) {
	msg := newEventMessage(evt)

	m.mu.RLock()
	var stalled []*subscriber

	for _, sub := range m.subs {
		if !sub.allows(evt) {
			continue
		}

		if sub.enqueue(msg) {
			metrics.RecordBroadcastSent(string(msg.Type))
		} else {
			stalled = append(stalled, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range stalled {
		metrics.RecordBroadcastDropped()
		sub.logger.Warn("subscriber send buffer overflow, dropping")
		m.remove(sub.id, closeTryAgainLater, "send buffer overflow")
	}
}

// SubscriberCount returns the number of connected subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.subs)
}

// run drives the heartbeat and the periodic metrics push.
func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	pingTicker := time.NewTicker(m.cfg.PingInterval)
	defer pingTicker.Stop()

	metricsTicker := time.NewTicker(m.cfg.MetricsInterval)
	defer metricsTicker.Stop()

	for {
		if m.inShutdown.Load() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			m.heartbeat()
		case <-metricsTicker.C:
			m.pushMetrics()
		}
	}
}

// heartbeat closes subscribers whose last liveness signal is older
// than the pong timeout, then pings the rest. A silent subscriber is
// therefore removed within timeout + interval.
func (m *Manager) heartbeat() {
	m.mu.RLock()
	var expired, alive []*subscriber

	for _, sub := range m.subs {
		if sub.sinceLastPong() > m.cfg.PongTimeout {
			expired = append(expired, sub)
		} else {
			alive = append(alive, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range expired {
		metrics.RecordHeartbeatTimeout()
		sub.logger.Warn("heartbeat timeout, closing subscriber")
		m.remove(sub.id, closePolicyViolation, "heartbeat timeout")
	}

	ping := newPingMessage()

	for _, sub := range alive {
		if sub.enqueue(ping) {
			metrics.RecordBroadcastSent(string(TypePing))
		}
	}
}

func (m *Manager) pushMetrics() {
	msg := newMetricsMessage(m.state.Metrics())

	m.mu.RLock()
	subs := make([]*subscriber, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.enqueue(msg) {
			metrics.RecordBroadcastSent(string(TypeMetrics))
		}
	}
}

// remove unregisters and closes one subscriber. Safe to call for an
// already-removed id.
func (m *Manager) remove(id string, code int, reason string) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}

	count := len(m.subs)
	m.mu.Unlock()

	if !ok {
		return
	}

	sub.close(code, reason)
	metrics.SetSubscribers(count)
	sub.logger.Info("subscriber removed", "reason", reason, "total", count)
}
