package dynamic

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnReload sets a callback invoked after a plugin file is (re)loaded.
func WithOnReload(fn func(id string, err error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// Watcher monitors plugin directories for .go file changes and hot-reloads
// the affected plugins. Removed files unload their plugin.
type Watcher struct {
	loader   *Loader
	dirs     []string
	debounce time.Duration
	logger   *slog.Logger
	onReload func(id string, err error)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending map[string]time.Time // path -> last event time
}

// NewWatcher creates a file system watcher for the given plugin directories.
func NewWatcher(loader *Loader, dirs []string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		dirs:     dirs,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		done:     make(chan struct{}),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching all plugin directories. Directories are created if
// missing.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dynamic watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	for _, dir := range w.dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("dynamic watcher: %w", err)
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("dynamic watcher: watch %s: %w", dir, err)
		}
		w.logger.Info("watching plugin directory", "dir", dir)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !isGoFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.mu.Lock()
				w.pending[event.Name] = time.Now()
				w.mu.Unlock()
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				delete(w.pending, event.Name)
				w.mu.Unlock()
				w.handleRemove(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("plugin watcher error", "error", err)

		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Watcher) processPending() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, t := range w.pending {
		if now.Sub(t) >= w.debounce {
			ready = append(ready, path)
		}
	}
	for _, path := range ready {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.handleChange(path)
	}
}

func (w *Watcher) handleChange(path string) {
	id := fileToID(path)
	_, err := w.loader.LoadFromFile(id, path)
	if errors.Is(err, ErrDisabled) {
		w.logger.Debug("ignoring change to disabled plugin", "id", id)
		return
	}
	if err != nil {
		w.logger.Error("failed to reload plugin", "id", id, "path", path, "error", err)
	} else {
		w.logger.Info("reloaded plugin", "id", id, "path", path)
	}
	if w.onReload != nil {
		w.onReload(id, err)
	}
}

func (w *Watcher) handleRemove(path string) {
	id := fileToID(path)
	if _, ok := w.loader.Get(id); !ok {
		return
	}
	if err := w.loader.Unload(id); err != nil {
		w.logger.Error("failed to unload plugin", "id", id, "error", err)
		return
	}
	w.logger.Info("unloaded plugin", "id", id, "path", filepath.Base(path))
}
