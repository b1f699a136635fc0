package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/shelfhq/shelf/pkg/observability"
)

// Watcher observes a local backend's root for out-of-band filesystem
// changes and reports the affected repo-relative paths. Consumers use it to
// invalidate listing caches when files are modified on disk outside the
// service.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	logger  *observability.Logger
	onEvent func(relPath string)

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWatcher starts watching the backend's root, recursively. onEvent is
// invoked from the watcher goroutine for every create, write, remove, or
// rename under the root.
func NewWatcher(backend *LocalBackend, logger *observability.Logger, onEvent func(relPath string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	w := &Watcher{
		root:    backend.Root(),
		fsw:     fsw,
		logger:  logger.WithField("component", "storage-watcher"),
		onEvent: onEvent,
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(w.root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// addRecursive registers dir and all its subdirectories with the watcher
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("filesystem watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}

	// New directories need their own watch for nested changes
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.WithError(err).Warn("failed to watch new directory")
			}
		}
	}

	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.logger.WithField("path", rel).Debug("filesystem change detected")
		if w.onEvent != nil {
			w.onEvent(filepath.ToSlash(rel))
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}
