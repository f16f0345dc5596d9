package workspace

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/keelframe/keel/internal/config"
	"github.com/keelframe/keel/internal/debug"
	keelerrors "github.com/keelframe/keel/internal/errors"
	"github.com/keelframe/keel/internal/interfaces"
	"github.com/keelframe/keel/internal/types"
)

// Cache is the concurrent registry of live project handles. It owns
// every ProjectHandle exclusively: construction, refresh, idle eviction
// and teardown all happen here, serialized per root.
type Cache struct {
	engine interfaces.Engine
	cfg    config.Workspace

	mu    sync.Mutex
	roots map[string]*rootEntry

	// group coalesces concurrent loads of the same root into a single
	// engine call.
	group singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// rootEntry carries the per-root lock. The lock serializes load,
// invalidate, close and eviction for one root while distinct roots
// proceed fully in parallel.
type rootEntry struct {
	mu     sync.Mutex
	handle *ProjectHandle
}

// NewCache creates a cache backed by the given engine. Call Start to run
// the idle-eviction sweep and Stop on shutdown.
func NewCache(engine interfaces.Engine, cfg config.Workspace) *Cache {
	return &Cache{
		engine: engine,
		cfg:    cfg,
		roots:  make(map[string]*rootEntry),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the idle-eviction sweeper.
func (c *Cache) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.evictIdle()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper and closes every live handle. Idempotent.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done

		for _, root := range c.activeRoots() {
			c.Close(root)
		}
	})
}

// NormalizeRoot converts a root identifier to its canonical absolute
// form so the same project reached by different spellings shares one
// handle.
func NormalizeRoot(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Clean(root)
	}
	return filepath.Clean(abs)
}

// Acquire returns a live handle for the root, constructing one through
// the engine if needed. Concurrent calls for the same root coalesce into
// a single construction. The returned handle is checked out: the caller
// must pair it with Release.
func (c *Cache) Acquire(ctx context.Context, root string) (*ProjectHandle, error) {
	root = NormalizeRoot(root)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Fast path: existing live handle.
	if h := c.lookup(root); h != nil {
		if err := h.Checkout(); err == nil {
			return h, nil
		}
		// Closed underneath us; fall through to a fresh load.
	}

	ch := c.group.DoChan(root, func() (any, error) {
		return c.loadLocked(root)
	})

	select {
	case <-ctx.Done():
		// The flight keeps running for other waiters; this caller's
		// partial work is simply abandoned.
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		h := res.Val.(*ProjectHandle)
		if err := h.Checkout(); err != nil {
			return nil, err
		}
		return h, nil
	}
}

// Peek returns a checked-out handle only when the root is already
// loaded. Unlike Acquire it never constructs a model; callers that want
// a cheap answer about an unknown root get a project-not-loaded error.
func (c *Cache) Peek(root string) (*ProjectHandle, error) {
	root = NormalizeRoot(root)
	if h := c.lookup(root); h != nil {
		if err := h.Checkout(); err == nil {
			return h, nil
		}
	}
	return nil, keelerrors.NewProjectNotLoaded(root)
}

// loadLocked constructs or revives the handle for a root under its
// per-root lock. A construction failure leaves no registry entry behind,
// so a retry starts fresh instead of hitting a poisoned slot.
func (c *Cache) loadLocked(root string) (*ProjectHandle, error) {
	entry := c.entry(root)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.handle != nil && !entry.handle.isClosed() {
		return entry.handle, nil
	}

	eh, err := c.loadEngine(root)
	if err != nil {
		c.dropEntryIfEmpty(root, entry)
		return nil, keelerrors.NewLoadError(root, err)
	}

	entry.handle = newProjectHandle(root, eh)
	debug.LogWorkspace("loaded project %s (generation 1)\n", root)
	return entry.handle, nil
}

func (c *Cache) loadEngine(root string) (interfaces.EngineHandle, error) {
	ctx := context.Background()
	if c.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AcquireTimeout)
		defer cancel()
	}
	return c.engine.LoadProject(ctx, root)
}

// Invalidate forces full reconstruction of a root's model: the engine
// model is unloaded and reloaded, the generation bumps and all document
// state is discarded. Returns false when nothing was loaded.
func (c *Cache) Invalidate(ctx context.Context, root string) (bool, error) {
	root = NormalizeRoot(root)

	entry := c.lookupEntry(root)
	if entry == nil {
		return false, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	h := entry.handle
	if h == nil || h.isClosed() {
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	if old, err := h.Engine(); err == nil {
		if uerr := c.engine.Unload(ctx, old); uerr != nil {
			debug.LogWorkspace("unload during invalidate of %s: %v\n", root, uerr)
		}
	}

	eh, err := c.loadEngine(root)
	if err != nil {
		// The old model is gone. Remove the handle so the next Acquire
		// starts fresh instead of serving a husk.
		h.markClosed()
		entry.handle = nil
		c.dropEntryIfEmpty(root, entry)
		return false, keelerrors.NewLoadError(root, err)
	}

	h.refresh(eh)
	debug.LogWorkspace("invalidated project %s (generation %d)\n", root, h.Generation())
	return true, nil
}

// Close tears down a root deterministically. In-flight operations get a
// grace period to drain; stragglers fail with a handle-closed error
// instead of touching freed state. Idempotent: closing an unknown root
// returns false.
func (c *Cache) Close(root string) bool {
	root = NormalizeRoot(root)

	entry := c.lookupEntry(root)
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	h := entry.handle
	if h == nil || h.isClosed() {
		return false
	}

	h.markClosed()
	if !h.awaitIdle(c.cfg.CloseGrace) {
		debug.LogWorkspace("forcing release of %s with %d operations in flight\n", root, h.InFlight())
	}

	h.mu.RLock()
	eh := h.engineHandle
	h.mu.RUnlock()
	if eh != nil {
		if uerr := c.engine.Unload(context.Background(), eh); uerr != nil {
			debug.LogWorkspace("unload of %s: %v\n", root, uerr)
		}
	}

	entry.handle = nil
	c.dropEntryIfEmpty(root, entry)
	debug.LogWorkspace("closed project %s\n", root)
	return true
}

// ListActive returns metadata snapshots for every live handle.
func (c *Cache) ListActive() []types.ProjectInfo {
	var infos []types.ProjectInfo
	for _, root := range c.activeRoots() {
		if h := c.lookup(root); h != nil {
			infos = append(infos, h.Info())
		}
	}
	return infos
}

// evictIdle closes handles unused beyond the idle window. The per-root
// lock is taken first and the refcount re-checked under it, so eviction
// cannot race an in-flight Acquire or operation.
func (c *Cache) evictIdle() {
	cutoff := time.Now().Add(-c.cfg.IdleEviction)

	for _, root := range c.activeRoots() {
		entry := c.lookupEntry(root)
		if entry == nil {
			continue
		}

		entry.mu.Lock()
		h := entry.handle
		if h != nil && !h.isClosed() && h.InFlight() == 0 && h.lastAccessed().Before(cutoff) {
			h.markClosed()
			h.mu.RLock()
			eh := h.engineHandle
			h.mu.RUnlock()
			if eh != nil {
				if err := c.engine.Unload(context.Background(), eh); err != nil {
					debug.LogWorkspace("unload during eviction of %s: %v\n", root, err)
				}
			}
			entry.handle = nil
			debug.LogWorkspace("evicted idle project %s\n", root)
		}
		c.dropEntryIfEmpty(root, entry)
		entry.mu.Unlock()
	}
}

func (c *Cache) entry(root string) *rootEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.roots[root]
	if !ok {
		e = &rootEntry{}
		c.roots[root] = e
	}
	return e
}

func (c *Cache) lookupEntry(root string) *rootEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roots[root]
}

func (c *Cache) lookup(root string) *ProjectHandle {
	entry := c.lookupEntry(root)
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.handle == nil || entry.handle.isClosed() {
		return nil
	}
	return entry.handle
}

func (c *Cache) activeRoots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	roots := make([]string, 0, len(c.roots))
	for root := range c.roots {
		roots = append(roots, root)
	}
	return roots
}

// dropEntryIfEmpty removes the registry slot for a root that holds no
// handle. Caller holds the entry lock.
func (c *Cache) dropEntryIfEmpty(root string, entry *rootEntry) {
	if entry.handle != nil {
		return
	}
	c.mu.Lock()
	if e, ok := c.roots[root]; ok && e == entry {
		delete(c.roots, root)
	}
	c.mu.Unlock()
}
