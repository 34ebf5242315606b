package statefile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/dreamware/replicawatch/internal/cluster"
)

const defaultDebounce = 100 * time.Millisecond

// Applier receives the state read from the file.
// coordinator.StateStore implements it.
type Applier interface {
	ApplySnapshot(collections []*cluster.Collection, live cluster.LiveNodes) error
}

// Watcher keeps an Applier in sync with a state file. The parent directory
// is watched rather than the file itself so that editors which save by
// renaming a temporary file are picked up.
type Watcher struct {
	applier  Applier
	log      logr.Logger
	path     string
	debounce time.Duration
}

func NewWatcher(path string, applier Applier, log logr.Logger) *Watcher {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &Watcher{
		applier:  applier,
		log:      log.WithValues("path", path),
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
	}
}

// Reload reads the file once and applies it.
func (w *Watcher) Reload() error {
	doc, err := Load(w.path)
	if err != nil {
		return err
	}
	collections, live := doc.Snapshot()
	if err := w.applier.ApplySnapshot(collections, live); err != nil {
		return fmt.Errorf("apply state file: %w", err)
	}
	w.log.Info("state file applied", "collections", len(collections), "liveNodes", live.Sorted())
	return nil
}

// Run applies the file, then re-applies it after every change until ctx is
// done. A failing initial load is returned; failing reloads are logged and
// the previous state is kept.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	if err := w.Reload(); err != nil {
		return err
	}

	// Bursts of events from a single save collapse into one reload.
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			w.log.V(1).Info("state file event", "op", event.Op.String())
			fire = time.After(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "fs watcher error")
		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.log.Error(err, "state file reload failed, keeping previous state")
			}
		}
	}
}
