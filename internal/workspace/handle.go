package workspace

import (
	"sync"
	"sync/atomic"
	"time"

	keelerrors "github.com/keelframe/keel/internal/errors"
	"github.com/keelframe/keel/internal/interfaces"
	"github.com/keelframe/keel/internal/types"
)

// ProjectHandle is a live reference to a project model owned by the
// cache. The generation counter bumps on every full reload; operations
// snapshot it at acquire time and a later mismatch means the snapshot
// they queried no longer exists.
type ProjectHandle struct {
	root string

	// engineHandle is swapped under the cache's per-root lock on
	// invalidation. Read through Engine().
	mu           sync.RWMutex
	engineHandle interfaces.EngineHandle

	generation uint64 // atomic
	loadedAt   int64  // atomic unix nano
	lastAccess int64  // atomic unix nano
	inFlight   int64  // atomic outstanding-operation refcount
	closed     int32  // atomic bool

	// docs maps absolute path -> *documentState, discarded on reload.
	docs sync.Map
}

func newProjectHandle(root string, eh interfaces.EngineHandle) *ProjectHandle {
	now := time.Now().UnixNano()
	return &ProjectHandle{
		root:         root,
		engineHandle: eh,
		generation:   1,
		loadedAt:     now,
		lastAccess:   now,
	}
}

// Root returns the normalized root identifier for this handle.
func (h *ProjectHandle) Root() string {
	return h.root
}

// Generation returns the current reload generation. Strictly increasing
// across reloads of the same root.
func (h *ProjectHandle) Generation() uint64 {
	return atomic.LoadUint64(&h.generation)
}

// Engine returns the underlying engine handle, or a handle-closed error
// if the cache has already released it.
func (h *ProjectHandle) Engine() (interfaces.EngineHandle, error) {
	if h.isClosed() {
		return nil, keelerrors.NewHandleClosed(h.root)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engineHandle, nil
}

// Checkout registers an in-flight operation against the handle. Every
// successful Checkout must be paired with Release; eviction and Close
// wait on the count reaching zero.
func (h *ProjectHandle) Checkout() error {
	atomic.AddInt64(&h.inFlight, 1)
	if h.isClosed() {
		atomic.AddInt64(&h.inFlight, -1)
		return keelerrors.NewHandleClosed(h.root)
	}
	h.touch()
	return nil
}

// Release ends an in-flight operation.
func (h *ProjectHandle) Release() {
	atomic.AddInt64(&h.inFlight, -1)
}

// InFlight returns the outstanding-operation count.
func (h *ProjectHandle) InFlight() int {
	return int(atomic.LoadInt64(&h.inFlight))
}

func (h *ProjectHandle) touch() {
	atomic.StoreInt64(&h.lastAccess, time.Now().UnixNano())
}

func (h *ProjectHandle) lastAccessed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&h.lastAccess))
}

func (h *ProjectHandle) isClosed() bool {
	return atomic.LoadInt32(&h.closed) != 0
}

func (h *ProjectHandle) markClosed() {
	atomic.StoreInt32(&h.closed, 1)
}

// refresh swaps in a freshly loaded engine handle, bumps the generation
// and discards all document state. Caller holds the per-root lock.
func (h *ProjectHandle) refresh(eh interfaces.EngineHandle) {
	h.mu.Lock()
	h.engineHandle = eh
	h.mu.Unlock()

	atomic.AddUint64(&h.generation, 1)
	atomic.StoreInt64(&h.loadedAt, time.Now().UnixNano())
	h.touch()

	h.docs.Range(func(key, _ any) bool {
		h.docs.Delete(key)
		return true
	})
}

// Info returns an observability snapshot.
func (h *ProjectHandle) Info() types.ProjectInfo {
	open := 0
	h.docs.Range(func(_, _ any) bool {
		open++
		return true
	})
	return types.ProjectInfo{
		Root:           h.root,
		Generation:     h.Generation(),
		LoadedAt:       time.Unix(0, atomic.LoadInt64(&h.loadedAt)),
		LastAccessedAt: h.lastAccessed(),
		OpenDocuments:  open,
		InFlight:       h.InFlight(),
		Closed:         h.isClosed(),
	}
}

// awaitIdle polls until the in-flight count reaches zero or the grace
// period elapses. Returns true when the handle drained.
func (h *ProjectHandle) awaitIdle(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if atomic.LoadInt64(&h.inFlight) <= 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
