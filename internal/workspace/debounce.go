package workspace

import (
	"sync"
	"time"
)

// eventDebouncer batches change events so a burst of writes to the same
// path collapses into a single staleness mark.
type eventDebouncer struct {
	mutex    sync.Mutex
	paths    map[string]struct{}
	debounce time.Duration
	timer    *time.Timer
	flushFn  func(paths []string)
	stopped  bool
}

func newEventDebouncer(debounce time.Duration, flushFn func(paths []string)) *eventDebouncer {
	return &eventDebouncer{
		paths:    make(map[string]struct{}),
		debounce: debounce,
		flushFn:  flushFn,
	}
}

// addEvent records a changed path and (re)arms the flush timer.
func (d *eventDebouncer) addEvent(path string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}

	d.paths[path] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flush)
}

// flush hands the accumulated batch to the flush callback.
func (d *eventDebouncer) flush() {
	d.mutex.Lock()
	if d.stopped || len(d.paths) == 0 {
		d.mutex.Unlock()
		return
	}
	batch := make([]string, 0, len(d.paths))
	for path := range d.paths {
		batch = append(batch, path)
	}
	d.paths = make(map[string]struct{})
	d.mutex.Unlock()

	d.flushFn(batch)
}

// stop disarms the timer. Pending events are deliberately dropped:
// flushing during teardown would race the components the callback
// touches.
func (d *eventDebouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
