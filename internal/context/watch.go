package context

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a repository's .othala/context directory tree and
// tracks whether it has changed since the context graph was last loaded,
// feeding the "context is stale" predicate the daemon tick consults before
// triggering context regeneration.
type Watcher struct {
	watcher *fsnotify.Watcher
	stop    chan struct{}

	mu    sync.Mutex
	dirty bool
}

// WatchContextDir starts watching repoRoot's .othala/context directory
// tree (including subdirectories, since context graphs may nest, e.g.
// wiki/). If the directory does not exist or the watcher cannot be
// created, it returns (nil, false) — staleness tracking is best-effort,
// not a precondition for prompt assembly.
func WatchContextDir(repoRoot string) (*Watcher, bool) {
	root := filepath.Join(repoRoot, ".othala/context")
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, false
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, false
	}

	w := &Watcher{watcher: fsw, stop: make(chan struct{})}
	w.addTree(root)
	go w.loop()
	return w, true
}

func (w *Watcher) addTree(dir string) {
	_ = w.watcher.Add(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addTree(filepath.Join(dir, e.Name()))
		}
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			w.dirty = true
			w.mu.Unlock()

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
				}
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.stop:
			return
		}
	}
}

// IsStale reports whether a change has been observed since the last call
// to Acknowledge (or since the watcher started, if Acknowledge was never
// called).
func (w *Watcher) IsStale() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// Acknowledge clears the stale flag, marking the current context graph as
// current as of now.
func (w *Watcher) Acknowledge() {
	w.mu.Lock()
	w.dirty = false
	w.mu.Unlock()
}

// Close stops the watch loop and releases the underlying inotify handles.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}

// debounceWindow is how long callers should wait after the first observed
// change before regenerating, to avoid reacting to every line of a
// multi-file save.
const debounceWindow = 2 * time.Second

// DebounceWindow returns the recommended settle time before treating a
// stale context as ready to regenerate.
func DebounceWindow() time.Duration {
	return debounceWindow
}
