package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlens/clusterlens/internal/auth"
	"github.com/clusterlens/clusterlens/internal/logic/broadcast"
	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

type readResult struct {
	msg broadcast.Message
	err error
}

// fakeConn is an in-memory subscriber transport. Written frames are
// recorded; inbound frames are driven by the test through a channel.
type fakeConn struct {
	mu     sync.Mutex
	frames []broadcast.Message

	// blockWrites, when non-nil, makes WriteJSON hang until it is
	// closed. Used to simulate a stalled transport.
	blockWrites chan struct{}

	inbound chan readResult

	closed      bool
	closeCode   int
	closeReason string
	closeCh     chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan readResult, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	if c.blockWrites != nil {
		select {
		case <-c.blockWrites:
		case <-c.closeCh:
			return errors.New("write on closed connection")
		}
	}

	msg, ok := v.(broadcast.Message)
	if !ok {
		return errors.New("unexpected frame type")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("write on closed connection")
	}

	c.frames = append(c.frames, msg)

	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case res, ok := <-c.inbound:
		if !ok {
			return io.EOF
		}

		if res.err != nil {
			return res.err
		}

		if msg, ok := v.(*broadcast.Message); ok {
			*msg = res.msg
		}

		return nil
	case <-c.closeCh:
		return errors.New("read on closed connection")
	}
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.closeCh)

	return nil
}

func (c *fakeConn) closeInfo() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed, c.closeCode, c.closeReason
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.frames)
}

func (c *fakeConn) frame(i int) broadcast.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.frames[i]
}

// framesOfType returns the recorded frames matching one type.
func (c *fakeConn) framesOfType(mt broadcast.MessageType) []broadcast.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []broadcast.Message

	for _, msg := range c.frames {
		if msg.Type == mt {
			out = append(out, msg)
		}
	}

	return out
}

// waitFrames polls until the connection has recorded at least n frames.
func (c *fakeConn) waitFrames(t *testing.T, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		if c.frameCount() >= n {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("timed out waiting for %d frames, have %d", n, c.frameCount())
}

func (c *fakeConn) waitClosed(t *testing.T) (int, string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		if closed, code, reason := c.closeInfo(); closed {
			return code, reason
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatal("timed out waiting for connection close")

	return 0, ""
}

type fakeState struct {
	snap mirror.Snapshot
}

func (f fakeState) Snapshot() mirror.Snapshot { return f.snap }

func (f fakeState) Metrics() mirror.Metrics { return f.snap.Metrics }

func testSnapshot() mirror.Snapshot {
	return mirror.Snapshot{
		Nodes: []mirror.Node{{Name: "node-a", Ready: true}},
		Pods: []mirror.Pod{
			{UID: "uid-1", Name: "web-0", Namespace: "default", NodeName: "node-a", Phase: "Running"},
		},
		Namespaces:       []mirror.Namespace{{Name: "default", Status: "Active", PodCount: 1}},
		Metrics:          mirror.Metrics{TotalNodes: 1, ReadyNodes: 1, TotalPods: 1, TotalNamespaces: 1},
		ConnectionStatus: mirror.StatusConnected,
	}
}

func testManager(cfg broadcast.Config, validator auth.Validator) *broadcast.Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cluster := mirror.ClusterInfo{Name: "test-cluster", Version: "v1.33.0"}

	return broadcast.NewManager(logger, validator, fakeState{snap: testSnapshot()}, cluster, cfg)
}

// subscribe connects a fake conn in the background and waits for the
// handshake frames so the subscriber is known to be registered.
func subscribe(
	t *testing.T, m *broadcast.Manager, conn *fakeConn, token string, namespaces []string,
) {
	t.Helper()

	go func() {
		_ = m.Subscribe(context.Background(), conn, token, namespaces)
	}()

	conn.waitFrames(t, 2)
}

func podEvent(action mirror.Action, uid, namespace string) mirror.Event {
	return mirror.Event{
		Kind:   mirror.KindPod,
		Action: action,
		Pod:    &mirror.Pod{UID: uid, Name: "pod-" + uid, Namespace: namespace, Phase: "Running"},
	}
}

func TestManager_HandshakePrecedesEverything(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.AllowAll{})
	conn := newFakeConn()

	subscribe(t, m, conn, "", nil)

	first := conn.frame(0)
	require.Equal(t, broadcast.TypeConnection, first.Type)
	require.Equal(t, string(mirror.StatusConnected), first.Status)
	require.NotNil(t, first.Cluster)
	require.Equal(t, "test-cluster", first.Cluster.Name)
	require.False(t, first.Timestamp.IsZero())

	second := conn.frame(1)
	require.Equal(t, broadcast.TypeInitialState, second.Type)
	require.Len(t, second.Nodes, 1)
	require.Len(t, second.Pods, 1)
	require.Len(t, second.Namespaces, 1)

	require.Equal(t, 1, m.SubscriberCount())
}

func TestManager_EmptySnapshotHasEmptySlices(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := broadcast.NewManager(
		logger, auth.AllowAll{}, fakeState{}, mirror.ClusterInfo{Name: "empty"}, broadcast.Config{},
	)

	conn := newFakeConn()
	subscribe(t, m, conn, "", nil)

	state := conn.frame(1)
	require.NotNil(t, state.Nodes)
	require.NotNil(t, state.Pods)
	require.NotNil(t, state.Namespaces)
}

func TestManager_AuthFailureClosesBeforeState(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.StaticToken{Token: "secret"})
	conn := newFakeConn()

	err := m.Subscribe(t.Context(), conn, "wrong", nil)
	require.ErrorIs(t, err, broadcast.ErrUnauthorized)

	closed, code, reason := conn.closeInfo()
	require.True(t, closed)
	require.Equal(t, 1008, code)
	require.Contains(t, reason, "unauthorized")

	// Nothing was pushed to the unauthorized peer.
	require.Zero(t, conn.frameCount())
	require.Zero(t, m.SubscriberCount())
}

func TestManager_PublishFansOutWithNamespaceFilter(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.AllowAll{})

	all := newFakeConn()
	subscribe(t, m, all, "", nil)

	filtered := newFakeConn()
	subscribe(t, m, filtered, "", []string{"default"})

	require.Equal(t, 2, m.SubscriberCount())

	m.Publish(podEvent(mirror.ActionAdded, "uid-9", "kube-system"))
	m.Publish(podEvent(mirror.ActionAdded, "uid-10", "default"))

	node := mirror.Node{Name: "node-b", Ready: true}
	m.Publish(mirror.Event{Kind: mirror.KindNode, Action: mirror.ActionAdded, Node: &node})

	all.waitFrames(t, 5)
	require.Len(t, all.framesOfType(broadcast.TypePodEvent), 2)
	require.Len(t, all.framesOfType(broadcast.TypeNodeEvent), 1)

	// The filtered subscriber sees only its namespace, plus every node
	// event: nodes are cluster-scoped.
	filtered.waitFrames(t, 4)
	time.Sleep(10 * time.Millisecond)
	require.Len(t, filtered.framesOfType(broadcast.TypePodEvent), 1)
	require.Len(t, filtered.framesOfType(broadcast.TypeNodeEvent), 1)
}

func TestManager_StalledSubscriberIsDroppedNotWaitedOn(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.AllowAll{})

	stalled := newFakeConn()
	stalled.blockWrites = make(chan struct{})

	go func() {
		_ = m.Subscribe(context.Background(), stalled, "", nil)
	}()

	// Registration is visible through the subscriber count; no frame
	// ever completes on the stalled transport.
	deadline := time.Now().Add(5 * time.Second)
	for m.SubscriberCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, m.SubscriberCount())

	healthy := newFakeConn()
	subscribe(t, m, healthy, "", nil)

	// Enough deltas to overflow the stalled subscriber's send buffer.
	// Lightly paced so the healthy pump keeps up.
	for i := range 100 {
		m.Publish(podEvent(mirror.ActionModified, "uid-1", "default"))

		if i%10 == 9 {
			time.Sleep(time.Millisecond)
		}
	}

	code, reason := stalled.waitClosed(t)
	require.Equal(t, 1013, code)
	require.Contains(t, reason, "buffer overflow")

	healthy.waitFrames(t, 102)
	require.Len(t, healthy.framesOfType(broadcast.TypePodEvent), 100)
	require.Equal(t, 1, m.SubscriberCount())
}

func TestManager_HeartbeatTimeoutRemovesSilentSubscriber(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{
		PingInterval:    20 * time.Millisecond,
		PongTimeout:     10 * time.Millisecond,
		MetricsInterval: time.Hour,
	}, auth.AllowAll{})

	require.NoError(t, m.Start(t.Context()))

	conn := newFakeConn()
	subscribe(t, m, conn, "", nil)

	code, reason := conn.waitClosed(t)
	require.Equal(t, 1008, code)
	require.Contains(t, reason, "heartbeat timeout")

	deadline := time.Now().Add(5 * time.Second)
	for m.SubscriberCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Zero(t, m.SubscriberCount())
}

func TestManager_ClientPingGetsPong(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.AllowAll{})
	conn := newFakeConn()

	subscribe(t, m, conn, "", nil)

	conn.inbound <- readResult{msg: broadcast.Message{Type: broadcast.TypePing}}

	conn.waitFrames(t, 3)
	require.Equal(t, broadcast.TypePong, conn.frame(2).Type)
}

func TestManager_MalformedMessageKeepsConnection(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.AllowAll{})
	conn := newFakeConn()

	subscribe(t, m, conn, "", nil)

	conn.inbound <- readResult{err: &json.SyntaxError{Offset: 1}}

	conn.waitFrames(t, 3)
	errFrame := conn.frame(2)
	require.Equal(t, broadcast.TypeError, errFrame.Type)
	require.Equal(t, "malformed_message", errFrame.Code)

	// The connection survives and still answers pings.
	conn.inbound <- readResult{msg: broadcast.Message{Type: broadcast.TypePing}}

	conn.waitFrames(t, 4)
	require.Equal(t, broadcast.TypePong, conn.frame(3).Type)
	require.Equal(t, 1, m.SubscriberCount())
}

func TestManager_UnsupportedMessageGetsErrorReply(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.AllowAll{})
	conn := newFakeConn()

	subscribe(t, m, conn, "", nil)

	conn.inbound <- readResult{msg: broadcast.Message{Type: "subscribe_extra"}}

	conn.waitFrames(t, 3)
	errFrame := conn.frame(2)
	require.Equal(t, broadcast.TypeError, errFrame.Type)
	require.Equal(t, "unsupported_message", errFrame.Code)
	require.Equal(t, 1, m.SubscriberCount())
}

func TestManager_DisconnectUnregisters(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.AllowAll{})
	conn := newFakeConn()

	subscribe(t, m, conn, "", nil)
	require.Equal(t, 1, m.SubscriberCount())

	close(conn.inbound)

	deadline := time.Now().Add(5 * time.Second)
	for m.SubscriberCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Zero(t, m.SubscriberCount())
}

func TestManager_ShutdownClosesSubscribersGoingAway(t *testing.T) {
	t.Parallel()

	m := testManager(broadcast.Config{}, auth.AllowAll{})
	require.NoError(t, m.Start(t.Context()))

	conn := newFakeConn()
	subscribe(t, m, conn, "", nil)

	require.NoError(t, m.Shutdown(t.Context()))

	closed, code, _ := conn.closeInfo()
	require.True(t, closed)
	require.Equal(t, 1001, code)
	require.Zero(t, m.SubscriberCount())

	// New subscriptions are refused after shutdown.
	late := newFakeConn()
	err := m.Subscribe(t.Context(), late, "", nil)
	require.ErrorIs(t, err, broadcast.ErrShuttingDown)

	_, lateCode, _ := late.closeInfo()
	require.Equal(t, 1001, lateCode)
}
