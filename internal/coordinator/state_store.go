// Package coordinator implements the control plane of the cluster.
// This file implements the state store that publishes collection snapshots
// to registered watchers.
package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/exp/slices"

	"github.com/dreamware/replicawatch/internal/cluster"
)

var (
	// ErrCollectionNotFound is returned for operations on unknown collections.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrReplicaNotFound is returned when a replica id is not part of a collection.
	ErrReplicaNotFound = errors.New("replica not found")
	// ErrInvalidCollection is returned when a collection cannot be stored.
	ErrInvalidCollection = errors.New("invalid collection")
	// ErrCollectionExists is returned when creating a collection whose name
	// is taken.
	ErrCollectionExists = errors.New("collection already exists")
)

// CollectionStateWatcher is notified with the live node set and a snapshot of
// a collection whenever either changes. A nil snapshot means the collection
// was deleted. Returning true deregisters the watcher.
//
// Implementations must be comparable (typically a pointer) so that they can
// be removed with RemoveCollectionWatcher, and must not call back into the
// store's write methods from OnStateChanged.
type CollectionStateWatcher interface {
	OnStateChanged(liveNodes cluster.LiveNodes, state *cluster.Collection) bool
}

// notification is one pending delivery of a collection snapshot.
type notification struct {
	collection string
	state      *cluster.Collection // nil when deleted
	live       cluster.LiveNodes
	watchers   []CollectionStateWatcher
}

// StateStore holds the authoritative collection layouts and the live node
// set, and fans changes out to collection watchers.
//
// Every write goes through dispatchMu, which is held until all watchers
// affected by the write have been notified. Watchers therefore see changes
// in the order they were made and are never invoked concurrently, while
// readers only contend on mu and are not blocked by slow watchers.
//
// Thread Safety:
// All methods are safe for concurrent use.
type StateStore struct {
	collections map[string]*cluster.Collection
	watchers    map[string][]CollectionStateWatcher
	liveNodes   cluster.LiveNodes
	log         logr.Logger
	dispatchMu  sync.Mutex   // serialises writes and their deliveries
	mu          sync.RWMutex // protects collections, watchers and liveNodes
}

// NewStateStore creates an empty store with no live nodes.
func NewStateStore(log logr.Logger) *StateStore {
	return &StateStore{
		collections: make(map[string]*cluster.Collection),
		watchers:    make(map[string][]CollectionStateWatcher),
		liveNodes:   cluster.NewLiveNodes(),
		log:         log,
	}
}

// Collection returns a snapshot of the named collection.
func (s *StateStore) Collection(name string) (*cluster.Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	return c.Clone(), ok
}

// Collections returns the names of all collections in lexical order.
func (s *StateStore) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LiveNodes returns a copy of the current live node set.
func (s *StateStore) LiveNodes() cluster.LiveNodes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveNodes.Clone()
}

// WatcherCount returns the number of watchers registered on a collection.
func (s *StateStore) WatcherCount(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers[collection])
}

// SetCollection creates or replaces a collection and notifies its watchers.
func (s *StateStore) SetCollection(c *cluster.Collection) error {
	return s.putCollection(c, true)
}

// CreateCollection stores a new collection and notifies its watchers. It
// fails with ErrCollectionExists if a collection of that name is stored.
func (s *StateStore) CreateCollection(c *cluster.Collection) error {
	return s.putCollection(c, false)
}

func (s *StateStore) putCollection(c *cluster.Collection, replace bool) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCollection)
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if _, exists := s.collections[c.Name]; exists && !replace {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCollectionExists, c.Name)
	}
	s.collections[c.Name] = c.Clone()
	n := s.notificationLocked(c.Name)
	s.mu.Unlock()

	s.log.V(1).Info("collection updated", "collection", c.Name, "replicas", c.ReplicaCount())
	s.deliver(n)
	return nil
}

// SetReplicaState records a state reported for one replica.
func (s *StateStore) SetReplicaState(collection, replica string, state cluster.ReplicaState) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	c, ok := s.collections[collection]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if !c.SetReplicaState(replica, state) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrReplicaNotFound, collection, replica)
	}
	n := s.notificationLocked(collection)
	s.mu.Unlock()

	s.log.Info("replica state changed", "collection", collection, "replica", replica, "state", state)
	s.deliver(n)
	return nil
}

// DeleteCollection removes a collection. Its watchers receive a nil snapshot.
func (s *StateStore) DeleteCollection(name string) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if _, ok := s.collections[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	delete(s.collections, name)
	n := s.notificationLocked(name)
	s.mu.Unlock()

	s.log.Info("collection deleted", "collection", name)
	s.deliver(n)
	return nil
}

// SetLiveNodes replaces the live node set. If it changed, watchers of every
// existing collection are notified.
func (s *StateStore) SetLiveNodes(live cluster.LiveNodes) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.liveNodes.Equal(live) {
		s.mu.Unlock()
		return
	}
	s.liveNodes = live.Clone()
	var ns []notification
	for name := range s.collections {
		ns = append(ns, s.notificationLocked(name))
	}
	s.mu.Unlock()

	s.log.Info("live nodes changed", "liveNodes", live.Sorted())
	s.deliver(ns...)
}

// ApplySnapshot replaces the whole state with the given collections and live
// nodes. Collections that are absent from the snapshot are deleted. Only
// watchers of collections that changed are notified, unless the live node
// set changed too.
func (s *StateStore) ApplySnapshot(collections []*cluster.Collection, live cluster.LiveNodes) error {
	next := make(map[string]*cluster.Collection, len(collections))
	for _, c := range collections {
		if c == nil || c.Name == "" {
			return fmt.Errorf("%w: name is required", ErrInvalidCollection)
		}
		if _, dup := next[c.Name]; dup {
			return fmt.Errorf("%w: duplicate collection %s", ErrInvalidCollection, c.Name)
		}
		next[c.Name] = c.Clone()
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	liveChanged := !s.liveNodes.Equal(live)
	changed := make(map[string]bool)
	for name, prev := range s.collections {
		if c, ok := next[name]; !ok || liveChanged || !cmp.Equal(prev, c, cmpopts.EquateEmpty()) {
			changed[name] = true
		}
	}
	for name := range next {
		if _, ok := s.collections[name]; !ok {
			changed[name] = true
		}
	}
	s.collections = next
	s.liveNodes = live.Clone()

	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)
	ns := make([]notification, 0, len(names))
	for _, name := range names {
		ns = append(ns, s.notificationLocked(name))
	}
	s.mu.Unlock()

	s.log.Info("snapshot applied", "collections", len(next), "changed", names, "liveNodes", live.Sorted())
	s.deliver(ns...)
	return nil
}

// RegisterCollectionWatcher adds a watcher for a collection and invokes it
// right away with the current state. A collection that does not exist is
// delivered as nil. A watcher that already reports completion is not
// retained; otherwise it is called again on every change, including the
// creation of a collection that was missing.
func (s *StateStore) RegisterCollectionWatcher(collection string, w CollectionStateWatcher) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	state, live := s.collections[collection].Clone(), s.liveNodes.Clone()
	s.mu.Unlock()

	if w.OnStateChanged(live, state) {
		s.log.V(1).Info("watcher finished on registration", "collection", collection, "exists", state != nil)
		return
	}

	s.mu.Lock()
	s.watchers[collection] = append(s.watchers[collection], w)
	s.mu.Unlock()
}

// RemoveCollectionWatcher deregisters a watcher. Once it returns the watcher
// will not be invoked again. Removing an unknown watcher is a no-op.
func (s *StateStore) RemoveCollectionWatcher(collection string, w CollectionStateWatcher) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(collection, w)
}

// notificationLocked builds the delivery for one collection from the current
// state. Caller must hold s.mu.
func (s *StateStore) notificationLocked(collection string) notification {
	return notification{
		collection: collection,
		state:      s.collections[collection],
		live:       s.liveNodes,
		watchers:   slices.Clone(s.watchers[collection]),
	}
}

// deliver invokes watchers and drops those that report completion.
// Caller must hold s.dispatchMu but not s.mu.
func (s *StateStore) deliver(ns ...notification) {
	for _, n := range ns {
		if len(n.watchers) == 0 {
			continue
		}
		var finished []CollectionStateWatcher
		for _, w := range n.watchers {
			// Each watcher gets its own copy so none can disturb another.
			if w.OnStateChanged(n.live.Clone(), n.state.Clone()) {
				finished = append(finished, w)
			}
		}
		if len(finished) == 0 {
			continue
		}
		s.mu.Lock()
		for _, w := range finished {
			s.removeLocked(n.collection, w)
		}
		s.mu.Unlock()
		s.log.V(1).Info("watchers finished", "collection", n.collection, "count", len(finished))
	}
}

// removeLocked drops w from the watchers of collection. Caller must hold s.mu.
func (s *StateStore) removeLocked(collection string, w CollectionStateWatcher) {
	ws := s.watchers[collection]
	i := slices.Index(ws, w)
	if i < 0 {
		return
	}
	ws = slices.Delete(ws, i, i+1)
	if len(ws) == 0 {
		delete(s.watchers, collection)
		return
	}
	s.watchers[collection] = ws
}
