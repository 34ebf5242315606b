// Package core manages the replica cores hosted by a node agent.
//
// A core is the local runtime of one replica of a collection. The coordinator
// asks a node to load a core; the node brings it up in the background and
// reports each state change back so that the coordinator's cluster state, and
// every watcher waiting on it, sees the replica become active.
//
// # Lifecycle
//
//	down ──Load──▶ recovering ──(load delay)──▶ active
//	                    │
//	                    └──(host stopped)──▶ down
//
// Loading an already hosted core is idempotent: the core keeps its state and
// the current state is reported again, which repairs a coordinator that
// missed an earlier report.
//
// # Concurrency
//
// Host and Core are safe for concurrent use. Each Load starts at most one
// background goroutine per core; Host.Wait blocks until all of them finish.
package core
