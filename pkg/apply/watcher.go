package apply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hutchstack/hutch/pkg/log"
)

// Watcher keeps the desired state in sync with a directory of manifest
// files. Each file owns the entities it declares: rewriting a file
// re-applies it, and removing a file (or an entity from it) deletes what
// it declared.
type Watcher struct {
	applier *Applier
	dir     string

	mu    sync.Mutex
	files map[string][]Ref // File path -> entities it declared
}

// NewWatcher creates a manifest directory watcher
func NewWatcher(applier *Applier, dir string) *Watcher {
	return &Watcher{
		applier: applier,
		dir:     dir,
		files:   make(map[string][]Ref),
	}
}

// LoadDir applies every manifest file currently in the directory
func (w *Watcher) LoadDir() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read manifest dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		w.applyPath(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// Run watches the directory until the context is cancelled. A manifest
// file that fails to apply is logged and skipped; the watcher keeps
// running.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	logger := log.WithComponent("apply")
	logger.Info().Str("dir", w.dir).Msg("watching manifest directory")

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isManifest(event.Name) {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
				w.applyPath(event.Name)
			case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
				w.removePath(event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("watch error")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) applyPath(path string) {
	logger := log.WithComponent("apply")

	refs, err := w.applier.ApplyFile(path)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("manifest rejected")
		return
	}

	w.mu.Lock()
	previous := w.files[path]
	w.files[path] = refs
	w.mu.Unlock()

	// Entities the file used to declare but no longer does are deleted
	for _, old := range previous {
		if !containsRef(refs, old) {
			if err := w.applier.Delete(old); err != nil {
				logger.Error().Err(err).
					Str("kind", old.Kind).Str("name", old.Name).
					Msg("failed to delete dropped entity")
			}
		}
	}
}

func (w *Watcher) removePath(path string) {
	w.mu.Lock()
	refs := w.files[path]
	delete(w.files, path)
	w.mu.Unlock()

	logger := log.WithComponent("apply")
	for _, ref := range refs {
		if err := w.applier.Delete(ref); err != nil {
			logger.Error().Err(err).
				Str("kind", ref.Kind).Str("name", ref.Name).
				Msg("failed to delete entity for removed file")
		}
	}
}

func isManifest(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func containsRef(refs []Ref, ref Ref) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
