package mirror_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// fakeControlPlane is an in-memory control plane for coordinator and
// processor tests. Watch channels are handed to the caller and driven
// by the test; closing one simulates a stream loss.
type fakeControlPlane struct {
	mu         sync.Mutex
	nodes      []mirror.Node
	pods       []mirror.Pod
	namespaces []mirror.Namespace
	cursor     string
	listErr    map[mirror.Kind]error
	watchCh    map[mirror.Kind]chan mirror.WatchNotification
	opened     map[mirror.Kind]int
	listed     map[mirror.Kind]int
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		cursor:  "rv-1",
		listErr: make(map[mirror.Kind]error),
		watchCh: make(map[mirror.Kind]chan mirror.WatchNotification),
		opened:  make(map[mirror.Kind]int),
		listed:  make(map[mirror.Kind]int),
	}
}

func (f *fakeControlPlane) ListNodesQuery(_ context.Context) ([]mirror.Node, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listed[mirror.KindNode]++

	if err := f.listErr[mirror.KindNode]; err != nil {
		return nil, "", err
	}

	return slices.Clone(f.nodes), f.cursor, nil
}

func (f *fakeControlPlane) ListPodsQuery(_ context.Context) ([]mirror.Pod, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listed[mirror.KindPod]++

	if err := f.listErr[mirror.KindPod]; err != nil {
		return nil, "", err
	}

	return slices.Clone(f.pods), f.cursor, nil
}

func (f *fakeControlPlane) ListNamespacesQuery(_ context.Context) ([]mirror.Namespace, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listed[mirror.KindNamespace]++

	if err := f.listErr[mirror.KindNamespace]; err != nil {
		return nil, "", err
	}

	return slices.Clone(f.namespaces), f.cursor, nil
}

func (f *fakeControlPlane) WatchQuery(
	_ context.Context, kind mirror.Kind, _ string,
) (<-chan mirror.WatchNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan mirror.WatchNotification, 16)
	f.watchCh[kind] = ch
	f.opened[kind]++

	return ch, nil
}

func (f *fakeControlPlane) setListError(kind mirror.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listErr[kind] = err
}

func (f *fakeControlPlane) setPods(pods []mirror.Pod) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pods = pods
}

func (f *fakeControlPlane) stream(kind mirror.Kind) chan mirror.WatchNotification {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.watchCh[kind]
}

// waitWatch blocks until at least n watches for the given kind have
// been opened.
func (f *fakeControlPlane) waitWatch(t *testing.T, kind mirror.Kind, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		f.mu.Lock()
		count := f.opened[kind]
		f.mu.Unlock()

		if count >= n {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s watch %d to open", kind, n)
}

// waitList blocks until at least n list calls for the given kind have
// been made.
func (f *fakeControlPlane) waitList(t *testing.T, kind mirror.Kind, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		f.mu.Lock()
		count := f.listed[kind]
		f.mu.Unlock()

		if count >= n {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s list %d", kind, n)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBackoff() mirror.BackoffConfig {
	return mirror.BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func seededCursors() map[mirror.Kind]string {
	cursors := make(map[mirror.Kind]string, len(mirror.Kinds))
	for _, kind := range mirror.Kinds {
		cursors[kind] = "rv-1"
	}

	return cursors
}

func waitEvent(t *testing.T, ch <-chan mirror.Event) mirror.Event {
	t.Helper()

	select {
	case evt, ok := <-ch:
		require.True(t, ok, "event channel closed")

		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	return mirror.Event{}
}

func TestCoordinator_ForwardsLiveNotifications(t *testing.T) {
	t.Parallel()

	cp := newFakeControlPlane()
	c := mirror.NewCoordinator(discardLogger(), cp, testBackoff(), nil, "", "")

	c.Start(t.Context(), seededCursors())
	defer c.Stop(context.Background()) //nolint:errcheck

	cp.waitWatch(t, mirror.KindPod, 1)

	pod := testPod("uid-1", "web-0", "default", "node-a", "Running")
	cp.stream(mirror.KindPod) <- mirror.WatchNotification{Action: mirror.ActionAdded, Pod: &pod}

	evt := waitEvent(t, c.Events())
	require.Equal(t, mirror.KindPod, evt.Kind)
	require.Equal(t, mirror.ActionAdded, evt.Action)
	require.Equal(t, "uid-1", evt.Pod.UID)
}

func TestCoordinator_StreamLossTriggersRelist(t *testing.T) {
	t.Parallel()

	cp := newFakeControlPlane()
	c := mirror.NewCoordinator(discardLogger(), cp, testBackoff(), nil, "", "")

	c.Start(t.Context(), seededCursors())
	defer c.Stop(context.Background()) //nolint:errcheck

	cp.waitWatch(t, mirror.KindPod, 1)
	close(cp.stream(mirror.KindPod))

	// The cursor is discarded, a full listing fetched, and a fresh
	// stream opened from the listing's cursor.
	cp.waitList(t, mirror.KindPod, 1)
	cp.waitWatch(t, mirror.KindPod, 2)
	require.Equal(t, mirror.StreamStreaming, c.States()[mirror.KindPod])
}

func TestCoordinator_RelistFailureBacksOffAndRetries(t *testing.T) {
	t.Parallel()

	cp := newFakeControlPlane()
	cp.setListError(mirror.KindNamespace, errors.New("connection refused"))

	c := mirror.NewCoordinator(discardLogger(), cp, testBackoff(), nil, "", "")

	// Empty namespace cursor forces a list before streaming.
	cursors := seededCursors()
	cursors[mirror.KindNamespace] = ""

	c.Start(t.Context(), cursors)
	defer c.Stop(context.Background()) //nolint:errcheck

	cp.waitWatch(t, mirror.KindNode, 1)

	time.Sleep(10 * time.Millisecond)
	require.NotEqual(t, mirror.StreamStreaming, c.States()[mirror.KindNamespace])

	cp.setListError(mirror.KindNamespace, nil)

	cp.waitWatch(t, mirror.KindNamespace, 1)
	require.Equal(t, mirror.StreamStreaming, c.States()[mirror.KindNamespace])
}

func TestCoordinator_StopIsTerminal(t *testing.T) {
	t.Parallel()

	cp := newFakeControlPlane()
	c := mirror.NewCoordinator(discardLogger(), cp, testBackoff(), nil, "", "")

	c.Start(t.Context(), seededCursors())

	cp.waitWatch(t, mirror.KindNode, 1)
	cp.waitWatch(t, mirror.KindPod, 1)
	cp.waitWatch(t, mirror.KindNamespace, 1)

	require.NoError(t, c.Stop(t.Context()))

	for kind, state := range c.States() {
		require.Equal(t, mirror.StreamStopped, state, "kind %s", kind)
	}

	// The delta channel is closed once every stream goroutine exited.
	deadline := time.After(5 * time.Second)

	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after stop")
		}
	}
}
