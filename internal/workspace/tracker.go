package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/keelframe/keel/internal/debug"
	keelerrors "github.com/keelframe/keel/internal/errors"
	"github.com/keelframe/keel/internal/interfaces"
	"github.com/keelframe/keel/internal/types"
)

// documentState is the freshness record for one document inside a
// handle. Mutated only under the tracker's per-path lock.
type documentState struct {
	path         string
	versionToken uint64 // xxhash of the content last pushed to the engine
	modTime      time.Time
	generation   uint64
	lastSync     time.Time
	forcedStale  bool
}

// FreshnessTracker decides, per document access, whether the engine's
// in-memory snapshot still matches disk and re-synchronizes when it does
// not. Queries against a stale snapshot silently return answers that no
// longer match the file; a cheap stat per access is what this costs to
// prevent.
type FreshnessTracker struct {
	engine interfaces.Engine

	// locks stripes per-path mutexes: same-path resolves serialize,
	// distinct paths proceed in parallel.
	locks sync.Map // path -> *sync.Mutex

	// staleMarks records MarkStale calls by normalized path. A mark
	// newer than a document's last sync forces re-synchronization even
	// when the timestamp check passes, covering filesystem timestamp
	// coarseness and rapid automated edits.
	staleMarks sync.Map // path -> time.Time
}

// NewFreshnessTracker creates a tracker pushing content into the given
// engine.
func NewFreshnessTracker(engine interfaces.Engine) *FreshnessTracker {
	return &FreshnessTracker{engine: engine}
}

// MarkStale flags a path so the next Resolve re-synchronizes it
// regardless of timestamps.
func (t *FreshnessTracker) MarkStale(path string) {
	path = NormalizeRoot(path)
	t.staleMarks.Store(path, time.Now())
	debug.LogFreshness("marked stale: %s\n", path)
}

// Resolve returns the current freshness record for a document, after
// re-synchronizing disk content into the engine if forceRefresh is set,
// the document carries a stale mark, the on-disk modification time has
// advanced, or the handle reloaded since the document was last synced.
func (t *FreshnessTracker) Resolve(ctx context.Context, h *ProjectHandle, path string, forceRefresh bool) (types.DocumentInfo, error) {
	path = NormalizeRoot(path)

	if !pathInsideRoot(h.Root(), path) {
		return types.DocumentInfo{}, keelerrors.NewDocumentNotFound("resolve", path,
			fmt.Errorf("path is outside project root %s", h.Root()))
	}

	mu := t.pathLock(path)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.DocumentInfo{}, err
	}

	generation := h.Generation()
	state, _ := t.currentState(h, path)

	fi, err := os.Stat(path)
	if err != nil {
		return types.DocumentInfo{}, keelerrors.NewDocumentNotFound("stat", path, err)
	}

	reason := t.syncReason(state, generation, fi.ModTime(), forceRefresh)
	if reason == "" {
		state.modTime = fi.ModTime()
		return infoFor(state), nil
	}

	debug.LogFreshness("resync %s: %s\n", path, reason)

	content, err := os.ReadFile(path)
	if err != nil {
		return types.DocumentInfo{}, keelerrors.NewDocumentNotFound("read", path, err)
	}

	version := xxhash.Sum64(content)
	unchanged := state != nil && state.versionToken == version && state.generation == generation

	if !unchanged {
		eh, err := h.Engine()
		if err != nil {
			return types.DocumentInfo{}, err
		}
		if err := t.engine.SetDocumentText(ctx, eh, path, string(content), version); err != nil {
			return types.DocumentInfo{}, keelerrors.NewDocumentNotFound("sync", path, err)
		}
	}
	// When content hashes equal, the timestamp moved without an edit
	// (touch, checkout churn): record the new mtime, skip the push.

	fresh := &documentState{
		path:         path,
		versionToken: version,
		modTime:      fi.ModTime(),
		generation:   generation,
		lastSync:     time.Now(),
	}
	t.commit(h, fresh)
	t.clearMark(path)
	return infoFor(fresh), nil
}

// syncReason returns a non-empty human-readable reason when the document
// must be re-synchronized, empty when the cached state is authoritative.
func (t *FreshnessTracker) syncReason(state *documentState, generation uint64, diskModTime time.Time, forceRefresh bool) string {
	switch {
	case forceRefresh:
		return "forced refresh"
	case state == nil:
		return "first access"
	case state.forcedStale:
		return "marked stale"
	case state.generation != generation:
		return fmt.Sprintf("handle reloaded (generation %d, synced at %d)", generation, state.generation)
	case diskModTime.After(state.modTime):
		return "disk modification time advanced"
	}
	if mark, ok := t.markAfter(state.path, state.lastSync); ok {
		return fmt.Sprintf("stale mark at %s", mark.Format(time.RFC3339Nano))
	}
	return ""
}

// currentState loads the handle's record for a path, folding in any
// pending stale mark so state survives inspection via Document().
func (t *FreshnessTracker) currentState(h *ProjectHandle, path string) (*documentState, bool) {
	val, ok := h.docs.Load(path)
	if !ok {
		return nil, false
	}
	state := val.(*documentState)
	if _, marked := t.markAfter(path, state.lastSync); marked {
		state.forcedStale = true
	}
	return state, true
}

func (t *FreshnessTracker) commit(h *ProjectHandle, state *documentState) {
	h.docs.Store(state.path, state)
}

// Document returns the tracked state for a path without touching disk or
// the engine. ok is false when the document was never resolved against
// this handle.
func (t *FreshnessTracker) Document(h *ProjectHandle, path string) (types.DocumentInfo, bool) {
	path = NormalizeRoot(path)
	mu := t.pathLock(path)
	mu.Lock()
	defer mu.Unlock()

	state, ok := t.currentState(h, path)
	if !ok {
		return types.DocumentInfo{}, false
	}
	return infoFor(state), true
}

func (t *FreshnessTracker) pathLock(path string) *sync.Mutex {
	val, _ := t.locks.LoadOrStore(path, &sync.Mutex{})
	return val.(*sync.Mutex)
}

func (t *FreshnessTracker) markAfter(path string, since time.Time) (time.Time, bool) {
	val, ok := t.staleMarks.Load(path)
	if !ok {
		return time.Time{}, false
	}
	mark := val.(time.Time)
	if mark.After(since) {
		return mark, true
	}
	return time.Time{}, false
}

func (t *FreshnessTracker) clearMark(path string) {
	t.staleMarks.Delete(path)
}

func infoFor(state *documentState) types.DocumentInfo {
	return types.DocumentInfo{
		Path:         state.path,
		VersionToken: state.versionToken,
		ModTime:      state.modTime,
		Generation:   state.generation,
		ForcedStale:  state.forcedStale,
	}
}

// pathInsideRoot reports whether path sits at or below root.
func pathInsideRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
