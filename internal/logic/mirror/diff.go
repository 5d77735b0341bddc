package mirror

import (
	"maps"
	"slices"

	apiequality "k8s.io/apimachinery/pkg/api/equality"
)

// Resync diffing. After any stream loss the coordinator re-lists and
// computes the deltas between local state and the fresh listing here.
// These are pure functions so the reconnect path is testable without
// any live connection. Objects that are semantically unchanged produce
// no event.

// DiffNodes compares local nodes against a fresh full listing.
func DiffNodes(old map[string]Node, fresh []Node) []Event {
	freshByName := make(map[string]Node, len(fresh))
	for _, node := range fresh {
		freshByName[node.Name] = node
	}

	return diffByKey(old, freshByName, nodesEqual, func(action Action, node Node) Event {
		return Event{Kind: KindNode, Action: action, Node: &node}
	})
}

// DiffPods compares local pods against a fresh full listing.
func DiffPods(old map[string]Pod, fresh []Pod) []Event {
	freshByUID := make(map[string]Pod, len(fresh))
	for _, pod := range fresh {
		freshByUID[pod.UID] = pod
	}

	return diffByKey(old, freshByUID, podsEqual, func(action Action, pod Pod) Event {
		return Event{Kind: KindPod, Action: action, Pod: &pod}
	})
}

// DiffNamespaces compares local namespaces against a fresh full
// listing. The store-maintained pod count is ignored for equality; a
// fresh listing has no way to know it.
func DiffNamespaces(old map[string]Namespace, fresh []Namespace) []Event {
	freshByName := make(map[string]Namespace, len(fresh))
	for _, ns := range fresh {
		freshByName[ns.Name] = ns
	}

	return diffByKey(old, freshByName, namespacesEqual, func(action Action, ns Namespace) Event {
		return Event{Kind: KindNamespace, Action: action, Namespace: &ns}
	})
}

// diffByKey emits Added for keys only in fresh, Modified for keys in
// both whose values differ, and Deleted for keys only in old. Output
// order is deterministic (sorted keys, adds/modifies before deletes).
func diffByKey[T any](
	old map[string]T,
	fresh map[string]T,
	equal func(a, b T) bool,
	mk func(action Action, obj T) Event,
) []Event {
	var events []Event

	for _, key := range slices.Sorted(maps.Keys(fresh)) {
		freshObj := fresh[key]

		oldObj, ok := old[key]
		if !ok {
			events = append(events, mk(ActionAdded, freshObj))

			continue
		}

		if !equal(oldObj, freshObj) {
			events = append(events, mk(ActionModified, freshObj))
		}
	}

	for _, key := range slices.Sorted(maps.Keys(old)) {
		if _, ok := fresh[key]; !ok {
			events = append(events, mk(ActionDeleted, old[key]))
		}
	}

	return events
}

func nodesEqual(a, b Node) bool {
	return apiequality.Semantic.DeepEqual(a, b)
}

func podsEqual(a, b Pod) bool {
	return apiequality.Semantic.DeepEqual(a, b)
}

func namespacesEqual(a, b Namespace) bool {
	a.PodCount = 0
	b.PodCount = 0

	return apiequality.Semantic.DeepEqual(a, b)
}
