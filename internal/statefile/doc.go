// Package statefile loads cluster state from a YAML file and keeps a state
// store in sync with it. It is used for local clusters and tests, where
// collections and live nodes are edited by hand instead of being reported by
// node agents and the health monitor.
//
// # Overview
//
// The file holds the complete cluster state: the live node set and every
// collection with its shards and replicas. Each time it changes, the whole
// document is parsed, validated and applied to the store in one step.
// Collections missing from the file are deleted, so their watchers receive
// the deletion sentinel.
//
// # Architecture
//
//	┌──────────────┐   fsnotify    ┌──────────────┐  ApplySnapshot  ┌──────────────┐
//	│  state.yaml  │ ────────────▶ │   Watcher    │ ──────────────▶ │  StateStore  │
//	└──────────────┘  (parent dir) │  (debounce)  │                 └──────────────┘
//	                               └──────────────┘                        │
//	                                                                       ▼
//	                                                            collection watchers
//
// # File Format
//
//	live_nodes: [node-1, node-2]
//	collections:
//	  - name: books
//	    shards:
//	      - name: shard1
//	        replicas:
//	          - name: core_node1
//	            core: books_shard1_replica_n1
//	            node_name: node-1
//	            state: active
//	            leader: true
//
// Replica states are active, down, recovering and recovery_failed. A replica
// only counts as active when its node is listed in live_nodes.
//
// # Validation
//
// Parse rejects:
//   - unknown fields (a misspelled key would otherwise drop data)
//   - empty documents (usually a file caught mid-write)
//   - collections or replicas without a name, and duplicate names
//   - unknown replica states
//
// # Reload Semantics
//
// The Watcher observes the parent directory rather than the file, so editors
// that save through a temporary file and a rename are handled. Bursts of
// events are collapsed by a short debounce before the file is read.
//
// The first load must succeed: Run returns its error so a misconfigured
// coordinator fails at startup. Later failures are logged and the previous
// state stays in place until the next valid write.
//
// # Usage
//
//	store := coordinator.NewStateStore(log)
//	w := statefile.NewWatcher("/etc/cluster/state.yaml", store, log)
//	eg.Go(func() error { return w.Run(ctx) })
//
// # Thread Safety
//
// A Watcher applies snapshots from the goroutine running Run. The store
// serialises them with every other writer.
package statefile
