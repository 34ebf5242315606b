package coordinator

import (
	"errors"
	"fmt"

	"github.com/dreamware/replicawatch/internal/cluster"
)

// PlaceCollection lays out a new collection over the given nodes.
//
// The collection gets numShards slices named shard1..shardN, each with
// replicationFactor replicas. Replicas are handed out round-robin over nodes
// in order, so the replicas of one slice land on distinct nodes whenever
// replicationFactor <= len(nodes). Replica ids are core_node1, core_node2, ...
// and core names follow <collection>_<shard>_replica_n<K>. All replicas start
// down; the first replica of each slice is its leader.
//
// Example:
//
//	c, err := PlaceCollection("books", 2, 2, []string{"node-1", "node-2", "node-3"})
//	// shard1: core_node1@node-1 (leader), core_node2@node-2
//	// shard2: core_node3@node-3 (leader), core_node4@node-1
func PlaceCollection(name string, numShards, replicationFactor int, nodes []string) (*cluster.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCollection)
	}
	if numShards <= 0 {
		return nil, fmt.Errorf("%w: num_shards must be positive, got %d", ErrInvalidCollection, numShards)
	}
	if replicationFactor <= 0 {
		return nil, fmt.Errorf("%w: replication_factor must be positive, got %d", ErrInvalidCollection, replicationFactor)
	}
	if len(nodes) == 0 {
		return nil, errors.New("cannot place replicas with no nodes")
	}

	c := &cluster.Collection{Name: name, Slices: make([]cluster.Slice, 0, numShards)}
	k := 0
	for s := 1; s <= numShards; s++ {
		slice := cluster.Slice{
			Name:     fmt.Sprintf("shard%d", s),
			Replicas: make([]cluster.Replica, 0, replicationFactor),
		}
		for r := 0; r < replicationFactor; r++ {
			node := nodes[k%len(nodes)]
			k++
			slice.Replicas = append(slice.Replicas, cluster.Replica{
				Name:     fmt.Sprintf("core_node%d", k),
				Core:     fmt.Sprintf("%s_%s_replica_n%d", name, slice.Name, k),
				NodeName: node,
				State:    cluster.ReplicaStateDown,
				Leader:   r == 0,
			})
		}
		c.Slices = append(c.Slices, slice)
	}
	return c, nil
}

// ReplicaIDs returns the ids of all replicas of c in layout order.
func ReplicaIDs(c *cluster.Collection) []string {
	ids := make([]string, 0, c.ReplicaCount())
	if c == nil {
		return ids
	}
	for _, s := range c.Slices {
		for _, r := range s.Replicas {
			ids = append(ids, r.Name)
		}
	}
	return ids
}
