package statefile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/replicawatch/internal/cluster"
	"github.com/dreamware/replicawatch/internal/coordinator"
)

type fakeApplier struct {
	mu    sync.Mutex
	calls [][]*cluster.Collection
}

func (f *fakeApplier) ApplySnapshot(collections []*cluster.Collection, _ cluster.LiveNodes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, collections)
	return nil
}

func (f *fakeApplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func startWatcher(t *testing.T, path string, applier Applier) (cancel func(), errc <-chan error) {
	t.Helper()
	w := NewWatcher(path, applier, logr.Discard())
	w.debounce = 10 * time.Millisecond
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- w.Run(ctx) }()
	return cancelFn, ch
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collections: ["), 0o644))

	cancel, errc := startWatcher(t, path, &fakeApplier{})
	defer cancel()

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte(booksDoc), 0o644))

	applier := &fakeApplier{}
	cancel, errc := startWatcher(t, path, applier)

	require.Eventually(t, func() bool { return applier.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(booksDoc, "state: down", "state: active")), 0o644))
	require.Eventually(t, func() bool { return applier.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	// A broken edit is logged and skipped
	n := applier.count()
	require.NoError(t, os.WriteFile(path, []byte("collections: ["), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, applier.count())

	// Unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte(booksDoc), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, applier.count())

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

// Editing the state file drives replica watchers end to end.
func TestWatcherDrivesReplicaWait(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte(booksDoc), 0o644))

	store := coordinator.NewStateStore(logr.Discard())
	cancel, _ := startWatcher(t, path, store)
	defer cancel()
	require.Eventually(t, func() bool {
		_, ok := store.Collection("books")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	done := make(chan error, 1)
	go func() {
		_, err := store.WaitForActiveReplicas(ctx, "books", []string{"core_node1", "core_node2"}, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return store.WatcherCount("books") == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(booksDoc, "state: down", "state: active")), 0o644))
	require.NoError(t, <-done)
}
