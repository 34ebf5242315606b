// Package watcher implements ActiveReplicaWatcher, an observer of collection
// state that detects when a chosen set of replicas has become active.
//
// # Overview
//
// Orchestration code that creates or moves replicas (collection creation,
// replica add, node recovery) needs to know when the new replicas are
// serving. It builds a watcher naming the replicas by id and/or core name,
// registers it with the coordinator's state store and waits on a shared
// Latch:
//
//	latch := watcher.NewLatch(len(ids))
//	w, err := watcher.New("books", ids, nil, latch)
//	if err != nil {
//	    return err
//	}
//	store.RegisterCollectionWatcher("books", w)
//	if err := latch.Wait(ctx); err != nil {
//	    store.RemoveCollectionWatcher("books", w)
//	    return fmt.Errorf("replicas not active: %w (still waiting on %v)", err, w.ReplicaIDs())
//	}
//
// # Snapshot Protocol
//
// The store calls OnStateChanged with the live node set and a snapshot of
// the collection every time either changes. Each call narrows the pending
// targets:
//
//   - A replica whose id is pending and which is active on a live node is
//     confirmed: it is appended to ActiveReplicas, its id leaves the pending
//     list and the counter is counted down once.
//   - Otherwise, a replica whose core name is pending is treated the same way
//     against the pending core names.
//   - Matches that are not active yet change nothing; they are looked at again
//     on the next snapshot.
//
// A nil snapshot means the collection was deleted. Every remaining target is
// counted down once and dropped, since nothing can become active any more.
//
// OnStateChanged returns true once no target is pending. The store
// deregisters the watcher at that point; there is no other way to stop it.
//
// The id check takes precedence over the core-name check for a given replica
// within one snapshot. If the same replica is targeted both by id and by core
// name, only the id target is resolved by that snapshot and the core-name
// target stays pending until a later snapshot matches it.
//
// # Counting
//
// The counter passed to New is counted down exactly once per resolved target
// and never more often than the number of targets the watcher owns. It may be
// shared between watchers. Latch ignores count-downs past zero.
//
// # Concurrency Model
//
// The watcher runs no goroutines. OnStateChanged is serialised with a mutex,
// so a store that delivers from several goroutines cannot break the
// exactly-once guarantee. Accessors take a read lock and return copies, so
// progress can be polled from any goroutine. The watcher never blocks on I/O
// and performs no timeouts or retries; waiting with a deadline is the
// caller's job (see Latch.Wait).
package watcher
