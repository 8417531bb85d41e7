/*
 * internal/kubewatch/kubewatch.go
 *
 * Kubeconfig hot-reload: watches the active kubeconfig file (and any
 * additional KUBECONFIG-listed paths) for changes with debounce, and
 * invokes a callback so the caller can rebuild the Kubernetes clientset
 * without a process restart. Watches are directory-level with a per-file
 * name filter, so unrelated writes in the same directory never trigger a
 * reload.
 */

package kubewatch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// DebounceInterval coalesces rapid successive filesystem events (e.g. an
// editor's write-then-rename save pattern) into a single callback.
const DebounceInterval = 500 * time.Millisecond

// OnChange is invoked (on its own goroutine) with the set of kubeconfig
// paths that changed since the last callback.
type OnChange func(paths []string)

// Watcher watches a fixed set of kubeconfig file paths for changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	onChange  OnChange

	mu      sync.Mutex
	byDir   map[string]map[string]struct{} // accepted basenames per watched dir
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
}

// New starts watching paths (deduplicated by containing directory, with a
// per-directory filename filter so unrelated files in the same directory
// don't trigger a reload) and returns a Watcher. Call Stop to tear it down.
func New(paths []string, onChange OnChange) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		onChange:  onChange,
		byDir:     make(map[string]map[string]struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		name := filepath.Base(p)
		if w.byDir[dir] == nil {
			w.byDir[dir] = make(map[string]struct{})
		}
		w.byDir[dir][name] = struct{}{}
		dirs[dir] = struct{}{}
	}
	for dir := range dirs {
		if err := fsWatcher.Add(dir); err != nil {
			klog.Warningf("kubewatch: watch %q: %v", dir, err)
		}
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	changed := make(map[string]struct{})

	flush := func() {
		if len(changed) == 0 || w.onChange == nil {
			return
		}
		paths := make([]string, 0, len(changed))
		for p := range changed {
			paths = append(paths, p)
		}
		changed = make(map[string]struct{})
		go w.onChange(paths)
	}

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			dir := filepath.Dir(event.Name)
			name := filepath.Base(event.Name)

			w.mu.Lock()
			filters := w.byDir[dir]
			w.mu.Unlock()
			if filters != nil {
				if _, accepted := filters[name]; !accepted {
					continue
				}
			}

			changed[filepath.Clean(event.Name)] = struct{}{}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(DebounceInterval)
			debounceCh = debounceTimer.C

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			klog.Warningf("kubewatch: fsnotify error: %v", err)

		case <-debounceCh:
			debounceCh = nil
			flush()
		}
	}
}

// Stop tears down the underlying fsnotify watcher. Safe to call once; a
// second call is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.fsWatcher.Close()
	<-w.doneCh
}
