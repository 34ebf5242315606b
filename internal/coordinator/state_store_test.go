package coordinator

import (
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/replicawatch/internal/cluster"
)

// recordingWatcher records every delivery and finishes after a fixed number
// of calls (never when finishAfter is 0).
type recordingWatcher struct {
	mu          sync.Mutex
	calls       []*cluster.Collection
	lives       []cluster.LiveNodes
	finishAfter int
}

func (w *recordingWatcher) OnStateChanged(live cluster.LiveNodes, state *cluster.Collection) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, state)
	w.lives = append(w.lives, live)
	return w.finishAfter > 0 && len(w.calls) >= w.finishAfter
}

func (w *recordingWatcher) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func (w *recordingWatcher) last() *cluster.Collection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[len(w.calls)-1]
}

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	s := NewStateStore(logr.Discard())
	s.SetLiveNodes(cluster.NewLiveNodes("node-1", "node-2"))
	c, err := PlaceCollection("books", 1, 2, []string{"node-1", "node-2"})
	require.NoError(t, err)
	require.NoError(t, s.SetCollection(c))
	return s
}

func TestStateStoreSetCollection(t *testing.T) {
	s := NewStateStore(logr.Discard())

	assert.ErrorIs(t, s.SetCollection(nil), ErrInvalidCollection)
	assert.ErrorIs(t, s.SetCollection(&cluster.Collection{}), ErrInvalidCollection)

	c, err := PlaceCollection("books", 1, 1, []string{"node-1"})
	require.NoError(t, err)
	require.NoError(t, s.SetCollection(c))

	// The store keeps its own copy
	c.Slices[0].Replicas[0].State = cluster.ReplicaStateActive
	got, ok := s.Collection("books")
	require.True(t, ok)
	assert.Equal(t, cluster.ReplicaStateDown, got.Slices[0].Replicas[0].State)

	assert.Equal(t, []string{"books"}, s.Collections())
	_, ok = s.Collection("movies")
	assert.False(t, ok)
}

func TestStateStoreSetReplicaState(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetReplicaState("books", "core_node1", cluster.ReplicaStateActive))
	c, _ := s.Collection("books")
	r, _ := c.Replica("core_node1")
	assert.Equal(t, cluster.ReplicaStateActive, r.State)

	assert.ErrorIs(t, s.SetReplicaState("movies", "core_node1", cluster.ReplicaStateActive), ErrCollectionNotFound)
	assert.ErrorIs(t, s.SetReplicaState("books", "core_node9", cluster.ReplicaStateActive), ErrReplicaNotFound)
}

func TestStateStoreRegisterDeliversCurrentState(t *testing.T) {
	s := newTestStore(t)

	w := &recordingWatcher{}
	s.RegisterCollectionWatcher("books", w)
	require.Equal(t, 1, w.count())
	assert.Equal(t, "books", w.last().Name)
	assert.Equal(t, 1, s.WatcherCount("books"))

	// A watcher that is satisfied right away is never retained
	done := &recordingWatcher{finishAfter: 1}
	s.RegisterCollectionWatcher("books", done)
	assert.Equal(t, 1, done.count())
	assert.Equal(t, 1, s.WatcherCount("books"))
}

func TestStateStoreRegisterBeforeCreate(t *testing.T) {
	s := NewStateStore(logr.Discard())

	w := &recordingWatcher{}
	s.RegisterCollectionWatcher("books", w)
	require.Equal(t, 1, w.count())
	assert.Nil(t, w.last(), "a missing collection is delivered as nil")
	assert.Equal(t, 1, s.WatcherCount("books"))

	// Live node changes do not reach watchers of missing collections
	s.SetLiveNodes(cluster.NewLiveNodes("node-1"))
	assert.Equal(t, 1, w.count())

	c, err := PlaceCollection("books", 1, 1, []string{"node-1"})
	require.NoError(t, err)
	require.NoError(t, s.SetCollection(c))
	require.Equal(t, 2, w.count())
	assert.NotNil(t, w.last())
}

func TestStateStoreRegisterMissingCollectionFinishes(t *testing.T) {
	s := NewStateStore(logr.Discard())

	w := &recordingWatcher{finishAfter: 1}
	s.RegisterCollectionWatcher("books", w)
	require.Equal(t, 1, w.count())
	assert.Nil(t, w.last())
	assert.Equal(t, 0, s.WatcherCount("books"))
}

func TestStateStoreNotifiesOnChanges(t *testing.T) {
	s := newTestStore(t)
	w := &recordingWatcher{}
	s.RegisterCollectionWatcher("books", w)

	require.NoError(t, s.SetReplicaState("books", "core_node2", cluster.ReplicaStateRecovering))
	assert.Equal(t, 2, w.count())
	r, _ := w.last().Replica("core_node2")
	assert.Equal(t, cluster.ReplicaStateRecovering, r.State)

	s.SetLiveNodes(cluster.NewLiveNodes("node-1"))
	assert.Equal(t, 3, w.count())
	assert.False(t, w.lives[2].Contains("node-2"))

	// Same live set again is not a change
	s.SetLiveNodes(cluster.NewLiveNodes("node-1"))
	assert.Equal(t, 3, w.count())

	// Watchers of other collections are not disturbed
	other, err := PlaceCollection("movies", 1, 1, []string{"node-1"})
	require.NoError(t, err)
	require.NoError(t, s.SetCollection(other))
	assert.Equal(t, 3, w.count())
}

func TestStateStoreDeleteCollection(t *testing.T) {
	s := newTestStore(t)
	w := &recordingWatcher{finishAfter: 2}
	s.RegisterCollectionWatcher("books", w)

	require.NoError(t, s.DeleteCollection("books"))
	require.Equal(t, 2, w.count())
	assert.Nil(t, w.last(), "deleted collection is delivered as nil")
	assert.Equal(t, 0, s.WatcherCount("books"))
	assert.Empty(t, s.Collections())

	assert.ErrorIs(t, s.DeleteCollection("books"), ErrCollectionNotFound)
}

func TestStateStoreFinishedWatcherIsDeregistered(t *testing.T) {
	s := newTestStore(t)
	w := &recordingWatcher{finishAfter: 2}
	s.RegisterCollectionWatcher("books", w)

	require.NoError(t, s.SetReplicaState("books", "core_node1", cluster.ReplicaStateActive))
	require.NoError(t, s.SetReplicaState("books", "core_node2", cluster.ReplicaStateActive))
	assert.Equal(t, 2, w.count())
	assert.Equal(t, 0, s.WatcherCount("books"))
}

func TestStateStoreRemoveCollectionWatcher(t *testing.T) {
	s := newTestStore(t)
	w := &recordingWatcher{}
	s.RegisterCollectionWatcher("books", w)

	s.RemoveCollectionWatcher("books", w)
	assert.Equal(t, 0, s.WatcherCount("books"))
	require.NoError(t, s.SetReplicaState("books", "core_node1", cluster.ReplicaStateActive))
	assert.Equal(t, 1, w.count())

	// Unknown watcher or collection is a no-op
	s.RemoveCollectionWatcher("books", w)
	s.RemoveCollectionWatcher("movies", &recordingWatcher{})
}

func TestStateStoreSnapshotsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	w := &recordingWatcher{}
	s.RegisterCollectionWatcher("books", w)

	w.last().Slices[0].Replicas[0].State = cluster.ReplicaStateActive
	c, _ := s.Collection("books")
	r, _ := c.Replica("core_node1")
	assert.Equal(t, cluster.ReplicaStateDown, r.State)
}

func TestStateStoreApplySnapshot(t *testing.T) {
	s := newTestStore(t)
	books := &recordingWatcher{}
	s.RegisterCollectionWatcher("books", books)
	movies := &recordingWatcher{}
	s.RegisterCollectionWatcher("movies", movies)
	require.Equal(t, 1, movies.count())

	booksState, _ := s.Collection("books")
	moviesState, err := PlaceCollection("movies", 1, 1, []string{"node-1"})
	require.NoError(t, err)

	// books unchanged, movies created, same live nodes
	require.NoError(t, s.ApplySnapshot([]*cluster.Collection{booksState, moviesState}, cluster.NewLiveNodes("node-1", "node-2")))
	assert.Equal(t, 1, books.count())
	assert.Equal(t, 2, movies.count())
	assert.NotNil(t, movies.last())
	assert.Equal(t, []string{"books", "movies"}, s.Collections())

	// books dropped from the snapshot means deleted
	require.NoError(t, s.ApplySnapshot([]*cluster.Collection{moviesState}, cluster.NewLiveNodes("node-1", "node-2")))
	assert.Equal(t, 2, books.count())
	assert.Nil(t, books.last())
	assert.Equal(t, 2, movies.count())

	// live node change reaches every existing collection
	require.NoError(t, s.ApplySnapshot([]*cluster.Collection{moviesState}, cluster.NewLiveNodes("node-1")))
	assert.Equal(t, 3, movies.count())
	assert.Equal(t, 2, books.count(), "watchers of a missing collection are not notified")

	assert.ErrorIs(t, s.ApplySnapshot([]*cluster.Collection{moviesState, moviesState}, nil), ErrInvalidCollection)
	assert.ErrorIs(t, s.ApplySnapshot([]*cluster.Collection{nil}, nil), ErrInvalidCollection)
}

func TestStateStoreCreateCollection(t *testing.T) {
	s := NewStateStore(logr.Discard())
	first, err := PlaceCollection("books", 1, 1, []string{"node-1"})
	require.NoError(t, err)
	second, err := PlaceCollection("books", 2, 1, []string{"node-2"})
	require.NoError(t, err)

	require.NoError(t, s.CreateCollection(first))
	assert.ErrorIs(t, s.CreateCollection(second), ErrCollectionExists)
	assert.ErrorIs(t, s.CreateCollection(nil), ErrInvalidCollection)

	got, _ := s.Collection("books")
	assert.Len(t, got.Slices, 1, "the first layout is kept")
}

func TestStateStoreCreateCollectionConcurrent(t *testing.T) {
	s := NewStateStore(logr.Discard())

	const creators = 8
	var wg sync.WaitGroup
	errs := make(chan error, creators)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := PlaceCollection("books", 1, 1, []string{"node-1"})
			if err == nil {
				err = s.CreateCollection(c)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrCollectionExists)
	}
	assert.Equal(t, 1, created)
}

func TestStateStoreApplySnapshotIgnoresEmptyVersusNil(t *testing.T) {
	s := NewStateStore(logr.Discard())
	live := cluster.NewLiveNodes("node-1")
	require.NoError(t, s.ApplySnapshot([]*cluster.Collection{{Name: "empty", Slices: []cluster.Slice{}}}, live))

	w := &recordingWatcher{}
	s.RegisterCollectionWatcher("empty", w)
	require.Equal(t, 1, w.count())

	require.NoError(t, s.ApplySnapshot([]*cluster.Collection{{Name: "empty"}}, live))
	assert.Equal(t, 1, w.count(), "nil and empty layouts are the same collection")
}
