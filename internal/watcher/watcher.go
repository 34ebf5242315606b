package watcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/exp/slices"

	"github.com/dreamware/replicawatch/internal/cluster"
)

// ErrInvalidArgument is returned by New when no watch target is supplied.
var ErrInvalidArgument = errors.New("invalid argument")

// Option configures an ActiveReplicaWatcher.
type Option func(*ActiveReplicaWatcher)

// WithLogger sets the logger used for per-snapshot debug output.
func WithLogger(log logr.Logger) Option {
	return func(w *ActiveReplicaWatcher) {
		w.log = log
	}
}

// ActiveReplicaWatcher waits for a set of replicas of one collection to
// become active. Targets are given by replica id, by core name, or both.
//
// Every target resolved moves from the pending lists to the active list and
// counts the shared Counter down exactly once. The watcher reports completion
// from OnStateChanged once nothing is pending, at which point the store
// deregisters it.
//
// Thread Safety:
// OnStateChanged calls are serialised on the instance. Accessors may run
// concurrently with it and always return copies.
type ActiveReplicaWatcher struct {
	mu             sync.RWMutex
	collection     string
	replicaIDs     []string
	coreNames      []string
	activeReplicas []cluster.Replica
	counter        Counter
	log            logr.Logger
}

// New creates a watcher for the given collection. At least one replica id or
// core name must be provided; otherwise the returned error wraps
// ErrInvalidArgument.
//
// Parameters:
//   - collection: name of the watched collection
//   - replicaIDs: replica ids to wait for (may be nil)
//   - coreNames: core names to wait for (may be nil)
//   - counter: optional counter, counted down once per resolved target. It
//     may be shared with other watchers and sized differently from this
//     watcher's own target count.
//
// The input slices are copied; callers may reuse them afterwards.
func New(collection string, replicaIDs, coreNames []string, counter Counter, opts ...Option) (*ActiveReplicaWatcher, error) {
	if replicaIDs == nil && coreNames == nil {
		return nil, fmt.Errorf("%w: either replica ids or core names must be provided", ErrInvalidArgument)
	}
	if len(replicaIDs) == 0 && len(coreNames) == 0 {
		return nil, fmt.Errorf("%w: at least one replica id or core name must be provided", ErrInvalidArgument)
	}
	if counter == nil {
		counter = nopCounter{}
	}
	w := &ActiveReplicaWatcher{
		collection: collection,
		replicaIDs: append([]string{}, replicaIDs...),
		coreNames:  append([]string{}, coreNames...),
		counter:    counter,
		log:        logr.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithValues("collection", collection)
	return w, nil
}

// Collection returns the name of the watched collection.
func (w *ActiveReplicaWatcher) Collection() string {
	return w.collection
}

// ActiveReplicas returns the replicas confirmed active so far, in the order
// they were observed.
func (w *ActiveReplicaWatcher) ActiveReplicas() []cluster.Replica {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.activeReplicas)
}

// ReplicaIDs returns the replica ids that are not active yet (or unverified).
func (w *ActiveReplicaWatcher) ReplicaIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.replicaIDs)
}

// CoreNames returns the core names that are not active yet (or unverified).
func (w *ActiveReplicaWatcher) CoreNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.coreNames)
}

// Done reports whether no targets remain pending.
func (w *ActiveReplicaWatcher) Done() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.replicaIDs) == 0 && len(w.coreNames) == 0
}

func (w *ActiveReplicaWatcher) String() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	active := make([]string, len(w.activeReplicas))
	for i, r := range w.activeReplicas {
		active[i] = r.Name + "/" + r.Core
	}
	return fmt.Sprintf("ActiveReplicaWatcher{collection=%q, replicaIds=[%s], coreNames=[%s], activeReplicas=[%s]}",
		w.collection,
		strings.Join(w.replicaIDs, ", "),
		strings.Join(w.coreNames, ", "),
		strings.Join(active, ", "))
}

// OnStateChanged processes one snapshot of the watched collection and
// reports whether the watcher is finished.
//
// A nil state means the collection was deleted. Nothing can become active
// any more, so every pending target is counted down and dropped and the
// watcher finishes.
//
// Otherwise every replica of the snapshot is matched against the pending
// replica ids and, failing that, against the pending core names. A match on
// an active replica resolves the target; a match on an inactive replica
// leaves it pending for the next snapshot. The return value is true exactly
// when both pending lists are empty afterwards.
func (w *ActiveReplicaWatcher) OnStateChanged(liveNodes cluster.LiveNodes, state *cluster.Collection) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if state == nil {
		pending := len(w.replicaIDs) + len(w.coreNames)
		w.log.V(1).Info("collection deleted, releasing pending targets", "pending", pending)
		for i := 0; i < pending; i++ {
			w.counter.CountDown()
		}
		w.replicaIDs = w.replicaIDs[:0]
		w.coreNames = w.coreNames[:0]
		return true
	}

	w.log.V(1).Info("state changed", "replicas", state.ReplicaCount(), "liveNodes", len(liveNodes))
	for _, slice := range state.Slices {
		for _, replica := range slice.Replicas {
			// An id match takes the replica; its core name is not checked
			// even if it is also a pending target.
			if i := slices.Index(w.replicaIDs, replica.Name); i >= 0 {
				if replica.IsActive(liveNodes) {
					w.replicaIDs = slices.Delete(w.replicaIDs, i, i+1)
					w.confirm(replica)
				}
			} else if i := slices.Index(w.coreNames, replica.CoreName()); i >= 0 {
				if replica.IsActive(liveNodes) {
					w.coreNames = slices.Delete(w.coreNames, i, i+1)
					w.confirm(replica)
				}
			}
		}
	}
	return len(w.replicaIDs) == 0 && len(w.coreNames) == 0
}

// confirm records an active replica. Caller must hold w.mu.
func (w *ActiveReplicaWatcher) confirm(replica cluster.Replica) {
	w.activeReplicas = append(w.activeReplicas, replica)
	w.counter.CountDown()
	w.log.V(1).Info("replica active", "replica", replica.Name, "core", replica.Core, "node", replica.NodeName)
}
