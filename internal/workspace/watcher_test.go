package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/keelframe/keel/internal/config"
)

// staleRecorder collects the paths reported by the watcher.
type staleRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *staleRecorder) mark(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *staleRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *staleRecorder) contains(path string) bool {
	for _, p := range r.snapshot() {
		if p == path {
			return true
		}
	}
	return false
}

func newTestWatcher(t *testing.T, cfg config.Watch, root string) *staleRecorder {
	t.Helper()
	rec := &staleRecorder{}
	cw, err := NewChangeWatcher(cfg, rec.mark)
	require.NoError(t, err)
	require.NoError(t, cw.Start(root))
	t.Cleanup(func() { _ = cw.Stop() })
	return rec
}

func TestWatcher_WriteMarksStale(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.cs")
	require.NoError(t, os.WriteFile(path, []byte("class A {}"), 0o644))

	rec := newTestWatcher(t, config.Watch{Debounce: 20 * time.Millisecond}, root)

	require.NoError(t, os.WriteFile(path, []byte("class A { int x; }"), 0o644))

	require.Eventually(t, func() bool {
		return rec.contains(NormalizeRoot(path))
	}, 2*time.Second, 10*time.Millisecond)
}

// A burst of writes inside one debounce window collapses into a single
// staleness mark per path.
func TestWatcher_BurstCollapses(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.cs")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o644))

	rec := newTestWatcher(t, config.Watch{Debounce: 50 * time.Millisecond}, root)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v"+string(rune('1'+i))), 0o644))
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return rec.contains(NormalizeRoot(path))
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond) // a full window past the flush
	count := 0
	for _, p := range rec.snapshot() {
		if p == NormalizeRoot(path) {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestWatcher_ExcludeGlobFilters(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	watched := filepath.Join(root, "src", "main.cs")
	ignored := filepath.Join(root, "build.log")
	require.NoError(t, os.WriteFile(watched, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(ignored, []byte("x"), 0o644))

	rec := newTestWatcher(t, config.Watch{
		Debounce: 20 * time.Millisecond,
		Exclude:  []string{"**/*.log"},
	}, root)

	require.NoError(t, os.WriteFile(ignored, []byte("noise"), 0o644))
	require.NoError(t, os.WriteFile(watched, []byte("class A {}"), 0o644))

	require.Eventually(t, func() bool {
		return rec.contains(NormalizeRoot(watched))
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.contains(NormalizeRoot(ignored)))
}

func TestWatcher_IncludeGlobFilters(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "main.cs")
	other := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	rec := newTestWatcher(t, config.Watch{
		Debounce: 20 * time.Millisecond,
		Include:  []string{"**/*.cs"},
	}, root)

	require.NoError(t, os.WriteFile(other, []byte("scribble"), 0o644))
	require.NoError(t, os.WriteFile(source, []byte("class A {}"), 0o644))

	require.Eventually(t, func() bool {
		return rec.contains(NormalizeRoot(source))
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.contains(NormalizeRoot(other)))
}

// Files created inside a directory that appeared after Start still
// produce events: new directories get watches on the fly.
func TestWatcher_NewDirectoryPicksUpWatch(t *testing.T) {
	root := t.TempDir()
	rec := newTestWatcher(t, config.Watch{Debounce: 20 * time.Millisecond}, root)

	sub := filepath.Join(root, "generated")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	time.Sleep(50 * time.Millisecond) // let the watch land before writing

	path := filepath.Join(sub, "output.cs")
	require.NoError(t, os.WriteFile(path, []byte("class G {}"), 0o644))

	require.Eventually(t, func() bool {
		return rec.contains(NormalizeRoot(path))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_StartStopNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	cw, err := NewChangeWatcher(config.Watch{Debounce: 20 * time.Millisecond}, func(string) {})
	require.NoError(t, err)
	require.NoError(t, cw.Start(root))
	require.NoError(t, cw.Stop())
}

func TestDebouncer_CoalescesAndFlushes(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	d := newEventDebouncer(20*time.Millisecond, func(paths []string) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, paths)
	})
	defer d.stop()

	d.addEvent("/a")
	d.addEvent("/b")
	d.addEvent("/a")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, batches[0], 2)
	assert.ElementsMatch(t, []string{"/a", "/b"}, batches[0])
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	var mu sync.Mutex
	flushed := false
	d := newEventDebouncer(20*time.Millisecond, func([]string) {
		mu.Lock()
		defer mu.Unlock()
		flushed = true
	})

	d.addEvent("/a")
	d.stop()
	d.addEvent("/b") // ignored after stop

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, flushed)
}
