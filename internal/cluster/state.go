package cluster

import (
	"sort"

	"golang.org/x/exp/slices"
)

// ReplicaState is the lifecycle state a node reports for a replica core.
type ReplicaState string

const (
	// ReplicaStateActive means the core is loaded and serving requests
	ReplicaStateActive ReplicaState = "active"
	// ReplicaStateDown means the core is not serving (initial state for new replicas)
	ReplicaStateDown ReplicaState = "down"
	// ReplicaStateRecovering means the core is catching up with its leader
	ReplicaStateRecovering ReplicaState = "recovering"
	// ReplicaStateRecoveryFailed means recovery gave up and needs intervention
	ReplicaStateRecoveryFailed ReplicaState = "recovery_failed"
)

// Valid reports whether s is one of the known replica states.
func (s ReplicaState) Valid() bool {
	switch s {
	case ReplicaStateActive, ReplicaStateDown, ReplicaStateRecovering, ReplicaStateRecoveryFailed:
		return true
	}
	return false
}

// Replica is one copy of a shard hosted as a core on a node.
//
// Name is the cluster-assigned replica id (e.g. "core_node3"); Core is the
// name of the local core on the hosting node. The two are independent and a
// watcher may target a replica by either of them.
type Replica struct {
	Name     string       `json:"name" yaml:"name"`
	Core     string       `json:"core" yaml:"core"`
	NodeName string       `json:"node_name" yaml:"node_name"`
	State    ReplicaState `json:"state" yaml:"state"`
	Leader   bool         `json:"leader,omitempty" yaml:"leader,omitempty"`
}

// CoreName returns the local core name of the replica.
func (r Replica) CoreName() string {
	return r.Core
}

// IsActive reports whether the replica is serving: its reported state is
// active and the node hosting it is live. A replica on a dead node is never
// active no matter what state it last published.
func (r Replica) IsActive(live LiveNodes) bool {
	return r.State == ReplicaStateActive && live.Contains(r.NodeName)
}

// Slice is a logical shard of a collection and the replicas that hold it.
type Slice struct {
	Name     string    `json:"name" yaml:"name"`
	Replicas []Replica `json:"replicas" yaml:"replicas"`
}

// Collection is a point-in-time snapshot of a collection's layout.
//
// A nil *Collection handed to a watcher means the collection has been
// deleted.
type Collection struct {
	Name   string  `json:"name" yaml:"name"`
	Slices []Slice `json:"shards" yaml:"shards"`
}

// Replica looks up a replica by its id across all slices.
func (c *Collection) Replica(name string) (Replica, bool) {
	if c == nil {
		return Replica{}, false
	}
	for _, s := range c.Slices {
		for _, r := range s.Replicas {
			if r.Name == name {
				return r, true
			}
		}
	}
	return Replica{}, false
}

// ReplicaCount returns the number of replicas across all slices.
func (c *Collection) ReplicaCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, s := range c.Slices {
		n += len(s.Replicas)
	}
	return n
}

// SetReplicaState updates the state of the named replica in place.
// It returns false if no replica with that id exists.
func (c *Collection) SetReplicaState(name string, state ReplicaState) bool {
	if c == nil {
		return false
	}
	for i := range c.Slices {
		for j := range c.Slices[i].Replicas {
			if c.Slices[i].Replicas[j].Name == name {
				c.Slices[i].Replicas[j].State = state
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy that shares no slices with c.
func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}
	out := &Collection{Name: c.Name, Slices: make([]Slice, len(c.Slices))}
	for i, s := range c.Slices {
		out.Slices[i] = Slice{Name: s.Name, Replicas: slices.Clone(s.Replicas)}
	}
	return out
}

// LiveNodes is the set of node names currently considered alive.
type LiveNodes map[string]struct{}

func NewLiveNodes(names ...string) LiveNodes {
	live := make(LiveNodes, len(names))
	for _, n := range names {
		live[n] = struct{}{}
	}
	return live
}

func (l LiveNodes) Contains(name string) bool {
	_, ok := l[name]
	return ok
}

// Sorted returns the node names in lexical order.
func (l LiveNodes) Sorted() []string {
	out := make([]string, 0, len(l))
	for n := range l {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (l LiveNodes) Equal(other LiveNodes) bool {
	if len(l) != len(other) {
		return false
	}
	for n := range l {
		if !other.Contains(n) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (l LiveNodes) Clone() LiveNodes {
	out := make(LiveNodes, len(l))
	for n := range l {
		out[n] = struct{}{}
	}
	return out
}
