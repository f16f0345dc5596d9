package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/keelframe/keel/internal/config"
	"github.com/keelframe/keel/internal/debug"
)

// ChangeWatcher monitors a project tree for out-of-band edits and feeds
// them into the freshness tracker as stale marks. It exists for edits the
// timestamp check would catch late or not at all: the mark makes the very
// next Resolve re-synchronize instead of trusting a cached snapshot.
type ChangeWatcher struct {
	watcher   *fsnotify.Watcher
	cfg       config.Watch
	debouncer *eventDebouncer
	onStale   func(path string)
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	statsMu         sync.RWMutex
	eventsProcessed int64
	errorCount      int64
}

// NewChangeWatcher creates a watcher that reports debounced changes
// through onStale (normally FreshnessTracker.MarkStale).
func NewChangeWatcher(cfg config.Watch, onStale func(path string)) (*ChangeWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	cw := &ChangeWatcher{
		watcher: watcher,
		cfg:     cfg,
		onStale: onStale,
		ctx:     ctx,
		cancel:  cancel,
	}
	cw.debouncer = newEventDebouncer(cfg.Debounce, cw.flushPaths)

	return cw, nil
}

// Start begins watching the given root recursively.
func (cw *ChangeWatcher) Start(root string) error {
	root = NormalizeRoot(root)
	debug.LogWatch("starting change watcher for %s\n", root)

	if err := cw.addWatches(root); err != nil {
		return err
	}

	cw.wg.Add(1)
	go cw.processEvents()

	return nil
}

// Stop stops the watcher and its goroutines. Pending debounced events
// are dropped; the workspace is being torn down anyway.
func (cw *ChangeWatcher) Stop() error {
	cw.cancel()
	err := cw.watcher.Close()
	cw.wg.Wait()
	cw.debouncer.stop()
	debug.LogWatch("change watcher stopped\n")
	return err
}

// addWatches walks the tree and registers every non-excluded directory.
// Symlinked directories are skipped to avoid cycles.
func (cw *ChangeWatcher) addWatches(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable subtrees are simply not watched
		}
		if !info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}
		if cw.excluded(root, path+string(filepath.Separator)) {
			return filepath.SkipDir
		}
		if werr := cw.watcher.Add(path); werr != nil {
			debug.LogWatch("cannot watch %s: %v\n", path, werr)
		}
		return nil
	})
}

// processEvents pumps fsnotify events into the debouncer.
func (cw *ChangeWatcher) processEvents() {
	defer cw.wg.Done()

	for {
		select {
		case <-cw.ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(event)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.statsMu.Lock()
			cw.errorCount++
			cw.statsMu.Unlock()
			debug.LogWatch("watch error: %v\n", err)
		}
	}
}

func (cw *ChangeWatcher) handleEvent(event fsnotify.Event) {
	path := NormalizeRoot(event.Name)

	// New directories need their own watch before anything inside them
	// produces events.
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			if !cw.excluded(filepath.Dir(path), path+string(filepath.Separator)) {
				if err := cw.watcher.Add(path); err != nil {
					debug.LogWatch("cannot watch new directory %s: %v\n", path, err)
				}
			}
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if cw.excluded(filepath.Dir(path), path) || !cw.included(path) {
		return
	}

	cw.statsMu.Lock()
	cw.eventsProcessed++
	cw.statsMu.Unlock()

	cw.debouncer.addEvent(path)
}

// flushPaths delivers a debounced batch of changed paths.
func (cw *ChangeWatcher) flushPaths(paths []string) {
	debug.LogWatch("processing %d debounced change events\n", len(paths))
	for _, path := range paths {
		cw.onStale(path)
	}
}

// included reports whether a file path matches the include globs. An
// empty include list means everything.
func (cw *ChangeWatcher) included(path string) bool {
	if len(cw.cfg.Include) == 0 {
		return true
	}
	slash := filepath.ToSlash(path)
	for _, pattern := range cw.cfg.Include {
		if ok, err := doublestar.Match(pattern, slash); err == nil && ok {
			return true
		}
	}
	return false
}

// excluded reports whether a path matches any exclude glob.
func (cw *ChangeWatcher) excluded(_ string, path string) bool {
	slash := filepath.ToSlash(path)
	for _, pattern := range cw.cfg.Exclude {
		if ok, err := doublestar.Match(pattern, slash); err == nil && ok {
			return true
		}
	}
	return false
}

// Stats returns processed event and error counts.
func (cw *ChangeWatcher) Stats() (events, errors int64) {
	cw.statsMu.RLock()
	defer cw.statsMu.RUnlock()
	return cw.eventsProcessed, cw.errorCount
}
