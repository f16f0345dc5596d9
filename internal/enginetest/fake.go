package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keelframe/keel/internal/interfaces"
)

// FakeHandle is the engine handle type handed out by the fake engine.
type FakeHandle struct {
	Root string
	Seq  int
}

// Fake is an in-memory Engine for tests: it counts calls, can inject
// failures and latency, and records every document push.
type Fake struct {
	mu sync.Mutex

	loadCalls   map[string]int
	unloads     int
	docs        map[string]string // per engine view: "root|path" -> text
	pushes      map[string]int    // path -> SetDocumentText count
	queryItems  []any
	queryErr    error
	queryHook   func()
	loadErr     error
	loadDelay   time.Duration
	nextSeq     int
	liveHandles map[*FakeHandle]bool
}

// NewFake creates an empty fake engine.
func NewFake() *Fake {
	return &Fake{
		loadCalls:   make(map[string]int),
		docs:        make(map[string]string),
		pushes:      make(map[string]int),
		liveHandles: make(map[*FakeHandle]bool),
	}
}

// FailLoads makes subsequent LoadProject calls return err (nil clears).
func (f *Fake) FailLoads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
}

// DelayLoads makes LoadProject block for d before returning.
func (f *Fake) DelayLoads(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadDelay = d
}

// SetQueryHook installs fn to run inside each Query call, after the
// handle check but before the result is built. Tests use it to race
// reloads against in-flight queries.
func (f *Fake) SetQueryHook(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryHook = fn
}

// SetQueryResult configures what Query returns.
func (f *Fake) SetQueryResult(items []any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryItems = items
	f.queryErr = err
}

// LoadCalls returns how many times a root was loaded.
func (f *Fake) LoadCalls(root string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadCalls[root]
}

// Unloads returns the total Unload count.
func (f *Fake) Unloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads
}

// Pushes returns how many times a path's content was pushed.
func (f *Fake) Pushes(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[path]
}

// DocumentText returns the engine's current view of a document.
func (f *Fake) DocumentText(root, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.docs[root+"|"+path]
	return text, ok
}

// LoadProject implements interfaces.Engine.
func (f *Fake) LoadProject(ctx context.Context, root string) (interfaces.EngineHandle, error) {
	f.mu.Lock()
	delay := f.loadDelay
	loadErr := f.loadErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if loadErr != nil {
		return nil, loadErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls[root]++
	f.nextSeq++
	h := &FakeHandle{Root: root, Seq: f.nextSeq}
	f.liveHandles[h] = true
	return h, nil
}

// Unload implements interfaces.Engine.
func (f *Fake) Unload(ctx context.Context, handle interfaces.EngineHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	if h, ok := handle.(*FakeHandle); ok {
		delete(f.liveHandles, h)
	}
	return nil
}

// GetDocument implements interfaces.Engine.
func (f *Fake) GetDocument(ctx context.Context, handle interfaces.EngineHandle, path string) (string, error) {
	h, err := f.live(handle)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.docs[h.Root+"|"+path]
	if !ok {
		return "", fmt.Errorf("document %s not loaded", path)
	}
	return text, nil
}

// SetDocumentText implements interfaces.Engine.
func (f *Fake) SetDocumentText(ctx context.Context, handle interfaces.EngineHandle, path, text string, versionToken uint64) error {
	h, err := f.live(handle)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[h.Root+"|"+path] = text
	f.pushes[path]++
	return nil
}

// ApplyEdit implements interfaces.Engine.
func (f *Fake) ApplyEdit(ctx context.Context, handle interfaces.EngineHandle, path string, edit interfaces.Edit) error {
	h, err := f.live(handle)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[h.Root+"|"+path] += edit.NewText
	return nil
}

// Query implements interfaces.Engine.
func (f *Fake) Query(ctx context.Context, handle interfaces.EngineHandle, req interfaces.QueryRequest) (interfaces.QueryResult, error) {
	if _, err := f.live(handle); err != nil {
		return interfaces.QueryResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return interfaces.QueryResult{}, err
	}

	f.mu.Lock()
	hook := f.queryHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return interfaces.QueryResult{}, f.queryErr
	}
	return interfaces.QueryResult{Items: append([]any(nil), f.queryItems...)}, nil
}

func (f *Fake) live(handle interfaces.EngineHandle) (*FakeHandle, error) {
	h, ok := handle.(*FakeHandle)
	if !ok {
		return nil, fmt.Errorf("foreign engine handle %T", handle)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.liveHandles[h] {
		return nil, fmt.Errorf("engine handle for %s already unloaded", h.Root)
	}
	return h, nil
}
