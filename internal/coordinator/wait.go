package coordinator

import (
	"context"
	"fmt"

	"github.com/dreamware/replicawatch/internal/watcher"
)

// WaitForActiveReplicas blocks until every listed replica id and core name of
// the collection is active, the collection is deleted, or ctx is done.
//
// The returned watcher carries the progress made: on timeout it tells the
// caller which targets were confirmed and which are still pending. When the
// collection does not exist, or is deleted while waiting, the error wraps
// ErrCollectionNotFound.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
//	defer cancel()
//	w, err := store.WaitForActiveReplicas(ctx, "books", []string{"core_node1"}, nil)
//	if err != nil {
//	    log.Error(err, "replicas did not come up", "pending", w.ReplicaIDs())
//	}
func (s *StateStore) WaitForActiveReplicas(ctx context.Context, collection string, replicaIDs, coreNames []string) (*watcher.ActiveReplicaWatcher, error) {
	targets := len(replicaIDs) + len(coreNames)
	latch := watcher.NewLatch(targets)
	w, err := watcher.New(collection, replicaIDs, coreNames, latch,
		watcher.WithLogger(s.log.WithName("active-replica-watcher")))
	if err != nil {
		return nil, err
	}

	s.RegisterCollectionWatcher(collection, w)
	if err := latch.Wait(ctx); err != nil {
		s.RemoveCollectionWatcher(collection, w)
		// The last target may have resolved as ctx expired.
		if !w.Done() {
			s.log.Info("gave up waiting for replicas", "watcher", w.String(), "err", err)
			return w, fmt.Errorf("waiting for replicas of %s: %w", collection, err)
		}
	}

	// Every target is resolved; those not confirmed active were released by
	// a missing or deleted collection.
	if len(w.ActiveReplicas()) < targets {
		return w, fmt.Errorf("%w: %s does not exist or was deleted", ErrCollectionNotFound, collection)
	}
	return w, nil
}
