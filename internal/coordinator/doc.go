// Package coordinator implements the control plane of the cluster: the
// authoritative collection state, node liveness, replica placement and the
// machinery that lets orchestration code wait for replicas to come up.
//
// # Overview
//
// The coordinator owns three pieces of state:
//
//   - registered nodes, probed by the HealthMonitor
//   - the live node set, derived from node health
//   - collection layouts (collection → slices → replicas), held by the
//     StateStore and updated by node agents reporting replica states
//
// # Architecture
//
//	┌───────────────────────────────────────────┐
//	│               COORDINATOR                 │
//	├───────────────────────────────────────────┤
//	│  HealthMonitor ──live nodes──┐            │
//	│                              ▼            │
//	│  node reports ───────▶  StateStore        │
//	│  state file   ───────▶  - collections     │
//	│                         - live nodes      │
//	│                         - watchers        │
//	│                              │ snapshots  │
//	│                              ▼            │
//	│                CollectionStateWatcher(s)  │
//	│                e.g. ActiveReplicaWatcher  │
//	└───────────────────────────────────────────┘
//
// # State Store
//
// StateStore is the subscription point for collection watchers. A watcher
// registered on a collection receives the current snapshot immediately (if
// the collection exists) and then one snapshot per change to that
// collection or to the live node set. Deleting a collection delivers nil.
// A watcher returning true is dropped.
//
// Writes and their deliveries are serialised, which gives watchers two
// guarantees: snapshots arrive in the order the changes were made, and a
// watcher is never invoked concurrently with itself. Readers are not blocked
// by deliveries.
//
// # Waiting for Replicas
//
// WaitForActiveReplicas combines a watcher.ActiveReplicaWatcher with a latch
// and a context deadline:
//
//	c, _ := PlaceCollection("books", 2, 2, nodes)
//	_ = store.SetCollection(c)
//	// ... ask nodes to load their cores ...
//	w, err := store.WaitForActiveReplicas(ctx, "books", ReplicaIDs(c), nil)
//
// On timeout the watcher is deregistered and returned so the caller can
// report which replicas never became active.
//
// # Health Monitoring
//
// The HealthMonitor probes every node's /health endpoint on an interval. A
// node becomes live after a successful probe and stops being live after three
// consecutive failures. Changes of the live set are pushed to the store,
// which re-notifies every watcher since replica activity depends on it.
//
// # Placement
//
// PlaceCollection distributes replicas round-robin over the registered
// nodes. It does not take load or existing replicas into account.
package coordinator
