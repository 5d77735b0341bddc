package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlens/clusterlens/internal/infra/pinger"
	"github.com/clusterlens/clusterlens/internal/logic/broadcast"
	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

type fakeState struct {
	snap mirror.Snapshot
}

func (f fakeState) Snapshot() mirror.Snapshot { return f.snap }

func (f fakeState) Metrics() mirror.Metrics { return f.snap.Metrics }

func (f fakeState) ConnectionStatus() mirror.ConnectionStatus { return f.snap.ConnectionStatus }

func (f fakeState) LastUpdated() time.Time { return f.snap.LastUpdated }

func (f fakeState) ListByNode(nodeName string) []mirror.Pod {
	var out []mirror.Pod

	for _, pod := range f.snap.Pods {
		if pod.NodeName == nodeName {
			out = append(out, pod)
		}
	}

	return out
}

func (f fakeState) ListByNamespace(namespace string) []mirror.Pod {
	var out []mirror.Pod

	for _, pod := range f.snap.Pods {
		if pod.Namespace == namespace {
			out = append(out, pod)
		}
	}

	return out
}

type fakeReadier struct {
	ready chan struct{}
}

func (f fakeReadier) Ready() <-chan struct{} { return f.ready }

type fakeHealther struct {
	healthy bool
	stats   map[string]pinger.Stats
}

func (f fakeHealther) Healthy() bool { return f.healthy }

func (f fakeHealther) AllStats() map[string]pinger.Stats { return f.stats }

type fakeBroadcaster struct {
	count int
	serve func(conn broadcast.Conn) error

	mu         sync.Mutex
	token      string
	namespaces []string
}

func (f *fakeBroadcaster) Subscribe(
	_ context.Context, conn broadcast.Conn, token string, namespaces []string,
) error {
	f.mu.Lock()
	f.token = token
	f.namespaces = namespaces
	f.mu.Unlock()

	if f.serve != nil {
		return f.serve(conn)
	}

	return nil
}

func (f *fakeBroadcaster) SubscriberCount() int { return f.count }

func (f *fakeBroadcaster) subscribed() (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.token, f.namespaces
}

type fakeUsage struct {
	usage mirror.Usage
	err   error
}

func (f fakeUsage) ClusterUsageQuery(context.Context) (mirror.Usage, error) {
	return f.usage, f.err
}

type fakeStreams struct {
	states map[mirror.Kind]mirror.StreamState
}

func (f fakeStreams) States() map[mirror.Kind]mirror.StreamState { return f.states }

func testSnapshot() mirror.Snapshot {
	return mirror.Snapshot{
		Nodes: []mirror.Node{{Name: "node-a", Ready: true}},
		Pods: []mirror.Pod{
			{UID: "uid-1", Name: "web-0", Namespace: "default", NodeName: "node-a", Phase: "Running"},
			{UID: "uid-2", Name: "dns-0", Namespace: "kube-system", NodeName: "node-b", Phase: "Running"},
		},
		Namespaces: []mirror.Namespace{
			{Name: "default", Status: "Active", PodCount: 1},
			{Name: "kube-system", Status: "Active", PodCount: 1},
		},
		Metrics: mirror.Metrics{
			TotalNodes: 1, ReadyNodes: 1, TotalPods: 2, TotalNamespaces: 2,
			PodsByPhase: map[string]int{"Running": 2},
		},
		LastUpdated:      time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		ConnectionStatus: mirror.StatusConnected,
	}
}

type serverFixture struct {
	server      *Server
	readier     fakeReadier
	health      *fakeHealther
	broadcaster *fakeBroadcaster
	usage       *fakeUsage
}

func newFixture() *serverFixture {
	f := &serverFixture{
		readier:     fakeReadier{ready: make(chan struct{})},
		health:      &fakeHealther{healthy: true, stats: map[string]pinger.Stats{}},
		broadcaster: &fakeBroadcaster{count: 3},
		usage:       &fakeUsage{usage: mirror.Usage{Nodes: 1, CPUMilli: 2000}},
	}

	f.server = New(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		"0",
		fakeState{snap: testSnapshot()},
		f.readier,
		f.health,
		f.broadcaster,
		f.usage,
		fakeStreams{states: map[mirror.Kind]mirror.StreamState{
			mirror.KindNode:      mirror.StreamStreaming,
			mirror.KindPod:       mirror.StreamStreaming,
			mirror.KindNamespace: mirror.StreamBackoff,
		}},
	)

	return f
}

func TestHandleHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec := httptest.NewRecorder()
	f.server.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/-/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	f.health.healthy = false

	rec = httptest.NewRecorder()
	f.server.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/-/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleReadyz(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec := httptest.NewRecorder()
	f.server.handleReadyz(rec, httptest.NewRequest(http.MethodGet, "/-/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(f.readier.ready)

	rec = httptest.NewRecorder()
	f.server.handleReadyz(rec, httptest.NewRequest(http.MethodGet, "/-/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec := httptest.NewRecorder()
	f.server.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/-/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, mirror.StatusConnected, status.ConnectionStatus)
	require.Equal(t, 3, status.Subscribers)
	require.Equal(t, mirror.StreamBackoff, status.Streams[mirror.KindNamespace])
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec := httptest.NewRecorder()
	f.server.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap mirror.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Nodes, 1)
	require.Len(t, snap.Pods, 2)
	require.Equal(t, mirror.StatusConnected, snap.ConnectionStatus)
}

func TestHandlePods_Filters(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec := httptest.NewRecorder()
	f.server.handlePods(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pods", nil))

	var pods []mirror.Pod
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pods))
	require.Len(t, pods, 2)

	rec = httptest.NewRecorder()
	f.server.handlePods(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pods?namespace=default", nil))

	pods = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pods))
	require.Len(t, pods, 1)
	require.Equal(t, "uid-1", pods[0].UID)

	rec = httptest.NewRecorder()
	f.server.handlePods(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pods?node=node-b", nil))

	pods = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pods))
	require.Len(t, pods, 1)
	require.Equal(t, "uid-2", pods[0].UID)
}

func TestHandleMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec := httptest.NewRecorder()
	f.server.handleMetrics(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))

	var m mirror.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, 2, m.TotalPods)
	require.Equal(t, 2, m.PodsByPhase["Running"])
}

func TestHandleUsage(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec := httptest.NewRecorder()
	f.server.handleUsage(rec, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var usage mirror.Usage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	require.Equal(t, int64(2000), usage.CPUMilli)

	f.usage.err = errors.New("metrics API not configured")

	rec = httptest.NewRecorder()
	f.server.handleUsage(rec, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleStream_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	f := newFixture()

	// No upgrade headers: the handshake fails before any subscription.
	rec := httptest.NewRecorder()
	f.server.handleStream(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
