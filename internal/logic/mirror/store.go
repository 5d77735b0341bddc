package mirror

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store is the authoritative in-memory mirror of the cluster resource
// graph. Primary maps are keyed by identity; podsByNode and
// podsByNamespace are secondary uid-set indices kept strictly
// consistent with the pod map. Every mutator recomputes derived
// metrics and advances lastUpdated before releasing the lock, so no
// reader ever observes a torn state.
type Store struct {
	mu sync.RWMutex

	nodes      map[string]Node
	pods       map[string]Pod
	namespaces map[string]Namespace

	podsByNode      map[string]map[string]struct{}
	podsByNamespace map[string]map[string]struct{}

	metrics     Metrics
	lastUpdated time.Time
	status      ConnectionStatus

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates an empty store in the Disconnected state.
func NewStore() *Store {
	s := &Store{
		nodes:           make(map[string]Node),
		pods:            make(map[string]Pod),
		namespaces:      make(map[string]Namespace),
		podsByNode:      make(map[string]map[string]struct{}),
		podsByNamespace: make(map[string]map[string]struct{}),
		status:          StatusDisconnected,
		now:             time.Now,
	}
	s.metrics = s.computeMetrics()

	return s
}

// UpsertNode inserts or replaces a node.
func (s *Store) UpsertNode(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[node.Name] = node
	s.touch()
}

// DeleteNode removes a node and cascade-deletes every pod indexed
// under it, keeping namespace pod counts in step. Deleting an unknown
// node is a no-op.
func (s *Store) DeleteNode(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[name]; !ok {
		return
	}

	delete(s.nodes, name)

	for uid := range s.podsByNode[name] {
		s.removePodLocked(uid)
	}

	delete(s.podsByNode, name)
	s.touch()
}

// UpsertPod inserts or replaces a pod, moving index entries when the
// pod was rescheduled to a different node. Namespace and UID are
// immutable, so only the node index can move.
func (s *Store) UpsertPod(pod Pod) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pods[pod.UID]; ok && prev.NodeName != pod.NodeName {
		s.dropIndex(s.podsByNode, prev.NodeName, pod.UID)
	}

	s.pods[pod.UID] = pod

	if pod.NodeName != "" {
		s.addIndex(s.podsByNode, pod.NodeName, pod.UID)
	}

	s.addIndex(s.podsByNamespace, pod.Namespace, pod.UID)
	s.touch()
}

// DeletePod removes a pod and its index entries. Unknown uid is a
// no-op.
func (s *Store) DeletePod(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pods[uid]; !ok {
		return
	}

	s.removePodLocked(uid)
	s.touch()
}

// UpsertNamespace inserts or replaces a namespace. The maintained pod
// count is always taken from the index, never from the caller.
func (s *Store) UpsertNamespace(ns Namespace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns.PodCount = len(s.podsByNamespace[ns.Name])
	s.namespaces[ns.Name] = ns
	s.touch()
}

// DeleteNamespace removes a namespace and cascade-deletes every pod
// indexed under it. Deleting an unknown namespace is a no-op.
func (s *Store) DeleteNamespace(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[name]; !ok {
		return
	}

	delete(s.namespaces, name)

	for uid := range s.podsByNamespace[name] {
		s.removePodLocked(uid)
	}

	delete(s.podsByNamespace, name)
	s.touch()
}

// GetNode returns a node by name.
func (s *Store) GetNode(name string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[name]

	return node, ok
}

// GetPod returns a pod by uid.
func (s *Store) GetPod(uid string) (Pod, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pod, ok := s.pods[uid]

	return pod, ok
}

// GetNamespace returns a namespace by name with its live pod count.
func (s *Store) GetNamespace(name string) (Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.namespaces[name]
	if ok {
		ns.PodCount = len(s.podsByNamespace[name])
	}

	return ns, ok
}

// ListByNode returns the pods currently assigned to a node, sorted by
// uid.
func (s *Store) ListByNode(nodeName string) []Pod {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectPodsLocked(s.podsByNode[nodeName])
}

// ListByNamespace returns the pods in a namespace, sorted by uid.
func (s *Store) ListByNamespace(namespace string) []Pod {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectPodsLocked(s.podsByNamespace[namespace])
}

// NodeMap returns a copy of the node map, keyed by name. Used by the
// coordinator to diff re-list results against local state.
func (s *Store) NodeMap() map[string]Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.nodes)
}

// PodMap returns a copy of the pod map, keyed by uid.
func (s *Store) PodMap() map[string]Pod {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.pods)
}

// NamespaceMap returns a copy of the namespace map, keyed by name.
func (s *Store) NamespaceMap() map[string]Namespace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Namespace, len(s.namespaces))
	for name, ns := range s.namespaces {
		ns.PodCount = len(s.podsByNamespace[name])
		out[name] = ns
	}

	return out
}

// Snapshot returns an immutable point-in-time copy of the full state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Nodes:            make([]Node, 0, len(s.nodes)),
		Pods:             make([]Pod, 0, len(s.pods)),
		Namespaces:       make([]Namespace, 0, len(s.namespaces)),
		Metrics:          s.metricsLocked(),
		LastUpdated:      s.lastUpdated,
		ConnectionStatus: s.status,
	}

	for _, node := range s.nodes {
		snap.Nodes = append(snap.Nodes, node)
	}

	for _, pod := range s.pods {
		snap.Pods = append(snap.Pods, pod)
	}

	for name, ns := range s.namespaces {
		ns.PodCount = len(s.podsByNamespace[name])
		snap.Namespaces = append(snap.Namespaces, ns)
	}

	slices.SortFunc(snap.Nodes, func(a, b Node) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(snap.Pods, func(a, b Pod) int { return strings.Compare(a.UID, b.UID) })
	slices.SortFunc(snap.Namespaces, func(a, b Namespace) int { return strings.Compare(a.Name, b.Name) })

	return snap
}

// Metrics returns the current derived aggregate counts.
func (s *Store) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.metricsLocked()
}

// LastUpdated returns the timestamp of the most recent mutation.
func (s *Store) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastUpdated
}

// ConnectionStatus returns the control-plane link status.
func (s *Store) ConnectionStatus() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// SetConnectionStatus records the control-plane link status. Set only
// by the event processor.
func (s *Store) SetConnectionStatus(status ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
	s.bumpLastUpdated()
}

// removePodLocked deletes one pod and its index entries. Callers hold
// the write lock.
func (s *Store) removePodLocked(uid string) {
	pod, ok := s.pods[uid]
	if !ok {
		return
	}

	delete(s.pods, uid)
	s.dropIndex(s.podsByNode, pod.NodeName, uid)
	s.dropIndex(s.podsByNamespace, pod.Namespace, uid)
}

func (s *Store) addIndex(index map[string]map[string]struct{}, key, uid string) {
	if key == "" {
		return
	}

	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}

	set[uid] = struct{}{}
}

func (s *Store) dropIndex(index map[string]map[string]struct{}, key, uid string) {
	set, ok := index[key]
	if !ok {
		return
	}

	delete(set, uid)

	if len(set) == 0 {
		delete(index, key)
	}
}

func (s *Store) collectPodsLocked(uids map[string]struct{}) []Pod {
	out := make([]Pod, 0, len(uids))
	for uid := range uids {
		if pod, ok := s.pods[uid]; ok {
			out = append(out, pod)
		}
	}

	slices.SortFunc(out, func(a, b Pod) int { return strings.Compare(a.UID, b.UID) })

	return out
}

// touch recomputes metrics from the maps and advances lastUpdated.
// Called at the end of every mutator, under the write lock.
func (s *Store) touch() {
	s.metrics = s.computeMetrics()
	s.bumpLastUpdated()
}

func (s *Store) bumpLastUpdated() {
	now := s.now()
	if !now.After(s.lastUpdated) {
		// Wall clock did not move between mutations; keep the
		// timestamp strictly monotone anyway.
		now = s.lastUpdated.Add(time.Nanosecond)
	}

	s.lastUpdated = now
}

func (s *Store) computeMetrics() Metrics {
	m := Metrics{
		TotalNodes:      len(s.nodes),
		TotalPods:       len(s.pods),
		TotalNamespaces: len(s.namespaces),
		PodsByPhase:     make(map[string]int),
	}

	for _, node := range s.nodes {
		if node.Ready {
			m.ReadyNodes++
		} else {
			m.NotReadyNodes++
		}
	}

	for _, pod := range s.pods {
		m.PodsByPhase[pod.Phase]++
	}

	return m
}

func (s *Store) metricsLocked() Metrics {
	m := s.metrics
	m.PodsByPhase = maps.Clone(s.metrics.PodsByPhase)

	return m
}
