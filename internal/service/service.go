package service

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/keelframe/keel/internal/budget"
	"github.com/keelframe/keel/internal/config"
	"github.com/keelframe/keel/internal/debug"
	keelerrors "github.com/keelframe/keel/internal/errors"
	"github.com/keelframe/keel/internal/interfaces"
	"github.com/keelframe/keel/internal/resource"
	"github.com/keelframe/keel/internal/shape"
	"github.com/keelframe/keel/internal/types"
	"github.com/keelframe/keel/internal/workspace"
)

// Service is the facade calling operations program against: workspace
// lifecycle on one side, response shaping on the other. It owns the
// lifecycle of every stateful component; nothing here is an ambient
// singleton.
type Service struct {
	cfg *config.Config

	engine    interfaces.Engine
	cache     *workspace.Cache
	tracker   *workspace.FreshnessTracker
	store     *resource.Store
	estimator *budget.Estimator
	reducer   *budget.Reducer
	registry  *shape.Registry
	builder   *shape.Builder
	watcher   *workspace.ChangeWatcher

	// workers bounds concurrently running operations.
	workers *semaphore.Weighted

	mu      sync.Mutex
	started bool
}

// New wires a service from an engine and configuration. Call Start
// before use and Stop on shutdown.
func New(engine interfaces.Engine, cfg *config.Config) (*Service, error) {
	if err := config.NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}

	est := budget.NewEstimator(cfg.Budget)
	red := budget.NewReducer(cfg.Budget, est)
	store := resource.NewStore(cfg.Resource)
	registry := shape.NewRegistry(est)
	builder := shape.NewBuilder(cfg.Budget, est, red, store, cfg.Resource.TTL, registry)

	s := &Service{
		cfg:       cfg,
		engine:    engine,
		cache:     workspace.NewCache(engine, cfg.Workspace),
		tracker:   workspace.NewFreshnessTracker(engine),
		store:     store,
		estimator: est,
		reducer:   red,
		registry:  registry,
		builder:   builder,
		workers:   semaphore.NewWeighted(int64(cfg.Workspace.MaxWorkers)),
	}

	if cfg.Watch.Enabled {
		watcher, err := workspace.NewChangeWatcher(cfg.Watch, s.tracker.MarkStale)
		if err != nil {
			return nil, err
		}
		s.watcher = watcher
	}

	return s, nil
}

// Start launches the background components: the idle-eviction sweep, the
// resource store sweep and, when configured, the change watcher.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.cache.Start()
	s.store.Start()
	if s.watcher != nil {
		if err := s.watcher.Start(s.cfg.Project.Root); err != nil {
			s.cache.Stop()
			s.store.Stop()
			return err
		}
	}

	s.started = true
	debug.LogWorkspace("service started for %s\n", s.cfg.Project.Root)
	return nil
}

// Stop tears everything down: watcher first (no new stale marks), then
// the cache (closing handles), then the store. Idempotent.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}

	var err error
	if s.watcher != nil {
		err = s.watcher.Stop()
	}
	s.cache.Stop()
	s.store.Stop()

	s.started = false
	return err
}

// AcquireProject returns a checked-out handle for a root, loading it on
// first use. forceRefresh invalidates any existing model first. Callers
// must pair every successful acquire with ReleaseProject.
func (s *Service) AcquireProject(ctx context.Context, root string, forceRefresh bool) (*workspace.ProjectHandle, error) {
	if forceRefresh {
		if _, err := s.cache.Invalidate(ctx, root); err != nil {
			return nil, err
		}
	}
	return s.cache.Acquire(ctx, root)
}

// PeekProject returns a checked-out handle for an already-loaded root
// without triggering a load. Returns a project-not-loaded error for
// unknown roots.
func (s *Service) PeekProject(root string) (*workspace.ProjectHandle, error) {
	return s.cache.Peek(root)
}

// ReleaseProject ends the in-flight operation an acquire started.
func (s *Service) ReleaseProject(h *workspace.ProjectHandle) {
	h.Release()
}

// InvalidateProject forces full reconstruction of a root's model.
func (s *Service) InvalidateProject(ctx context.Context, root string) (bool, error) {
	return s.cache.Invalidate(ctx, root)
}

// CloseProject deterministically tears down a root's model.
func (s *Service) CloseProject(root string) bool {
	return s.cache.Close(root)
}

// ListProjects returns metadata for every live handle.
func (s *Service) ListProjects() []types.ProjectInfo {
	return s.cache.ListActive()
}

// ResolveDocument synchronizes a document into the engine as needed and
// returns its freshness record.
func (s *Service) ResolveDocument(ctx context.Context, h *workspace.ProjectHandle, path string, forceRefresh bool) (types.DocumentInfo, error) {
	return s.tracker.Resolve(ctx, h, path, forceRefresh)
}

// MarkStale flags a path for re-synchronization on its next resolve.
func (s *Service) MarkStale(path string) {
	s.tracker.MarkStale(path)
}

// Query runs an analysis request against a handle's model, resolving the
// document first when the request names one. A generation mismatch
// observed across the call triggers one automatic invalidate-and-retry;
// the stale-handle error surfaces only if the retry fails too.
func (s *Service) Query(ctx context.Context, h *workspace.ProjectHandle, req interfaces.QueryRequest) (interfaces.QueryResult, error) {
	var result interfaces.QueryResult

	attempts := s.cfg.Workspace.StaleRetryLimit + 1
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = s.queryOnce(ctx, h, req)
		if err == nil || !keelerrors.IsStaleHandle(err) {
			return result, err
		}
		if attempt+1 >= attempts {
			break
		}
		debug.LogWorkspace("stale handle during query of %s, invalidating and retrying\n", h.Root())
		if _, ierr := s.cache.Invalidate(ctx, h.Root()); ierr != nil {
			return interfaces.QueryResult{}, ierr
		}
	}
	return interfaces.QueryResult{}, err
}

func (s *Service) queryOnce(ctx context.Context, h *workspace.ProjectHandle, req interfaces.QueryRequest) (interfaces.QueryResult, error) {
	if err := h.Checkout(); err != nil {
		return interfaces.QueryResult{}, err
	}
	defer h.Release()

	generation := h.Generation()

	if req.Path != "" {
		if _, err := s.tracker.Resolve(ctx, h, req.Path, false); err != nil {
			return interfaces.QueryResult{}, err
		}
	}

	eh, err := h.Engine()
	if err != nil {
		return interfaces.QueryResult{}, err
	}

	result, err := s.engine.Query(ctx, eh, req)
	if err != nil {
		return interfaces.QueryResult{}, err
	}

	// The model reloaded underneath the query: the answer describes a
	// snapshot that no longer exists. Discard it.
	if current := h.Generation(); current != generation {
		return interfaces.QueryResult{}, keelerrors.NewStaleHandle(h.Root(), generation, current)
	}

	return result, nil
}

// ApplyEdit applies an in-model edit to a document. The path is marked
// stale afterwards so the next resolve reconciles the engine's view with
// disk.
func (s *Service) ApplyEdit(ctx context.Context, h *workspace.ProjectHandle, path string, edit interfaces.Edit) error {
	if err := h.Checkout(); err != nil {
		return err
	}
	defer h.Release()

	if _, err := s.tracker.Resolve(ctx, h, path, false); err != nil {
		return err
	}

	eh, err := h.Engine()
	if err != nil {
		return err
	}
	if err := s.engine.ApplyEdit(ctx, eh, path, edit); err != nil {
		return err
	}

	s.tracker.MarkStale(path)
	return nil
}

// ShapeResponse runs the estimate/reduce/store/annotate pipeline over a
// raw result batch.
func (s *Service) ShapeResponse(ctx context.Context, req shape.Request) (types.ReducedResponse, error) {
	return s.builder.Build(ctx, req)
}

// RegisterKind installs cost/priority functions for a result kind.
func (s *Service) RegisterKind(kind shape.Kind, profile shape.Profile) {
	s.registry.Register(kind, profile)
}

// FetchResource returns the full, untruncated payload stored for a URI.
func (s *Service) FetchResource(uri string) (any, error) {
	return s.store.Get(uri)
}

// DeleteResource evicts a stored payload early.
func (s *Service) DeleteResource(uri string) bool {
	return s.store.Delete(uri)
}

// ResourceStats returns resource store counters.
func (s *Service) ResourceStats() resource.Stats {
	return s.store.Stats()
}

// Go runs fn on the bounded worker pool, honoring ctx while waiting for
// a slot. Operations that block on engine I/O belong here so a burst of
// requests cannot exhaust the process.
func (s *Service) Go(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.workers.Release(1)
	return fn(ctx)
}
