// Package cluster defines the shared data model of the cluster state that the
// coordinator publishes and watchers consume, together with the small JSON
// over HTTP helpers node agents and the coordinator use to talk to each other.
//
// # Overview
//
// Cluster state is organised as collections. A collection is split into
// slices (logical shards) and every slice is held by one or more replicas.
// Each replica is a core hosted on a node:
//
//	Collection "books"
//	├── Slice "shard1"
//	│   ├── Replica core_node1  core=books_shard1_replica_n1  node=node-1  active
//	│   └── Replica core_node2  core=books_shard1_replica_n2  node=node-2  down
//	└── Slice "shard2"
//	    └── Replica core_node3  core=books_shard2_replica_n3  node=node-2  recovering
//
// Replicas carry two independent names. Name is the id assigned by the
// coordinator when the replica is placed; Core is the name of the core on the
// hosting node. Callers waiting for replicas may refer to either.
//
// # Liveness
//
// The set of live nodes is tracked separately from collection state
// (LiveNodes). A replica counts as active only when its published state is
// ReplicaStateActive and its node is in the live set, so a node that dies
// silently takes all its replicas out of service without any state being
// rewritten.
//
// # Snapshots
//
// A *Collection handed to a watcher is a snapshot: the store clones state
// before delivery (Collection.Clone) so that watchers may hold on to replica
// records. A nil *Collection is the deletion sentinel and means the
// collection no longer exists.
//
// # Communication Protocol
//
// Node agents and the coordinator exchange JSON over HTTP (PostJSON, PutJSON,
// GetJSON). All calls share a client with a 5 second timeout and respect the
// caller's context. Responses with a status of 300 or above are returned as
// errors that include the start of the response body.
//
// # Concurrency Model
//
// The types in this package carry no locks. Collection values are owned by
// whoever holds them; the coordinator's state store serialises writers and
// only ever hands out clones.
package cluster
