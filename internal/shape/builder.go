package shape

import (
	"context"
	"fmt"
	"time"

	"github.com/keelframe/keel/internal/budget"
	"github.com/keelframe/keel/internal/config"
	"github.com/keelframe/keel/internal/debug"
	"github.com/keelframe/keel/internal/resource"
	"github.com/keelframe/keel/internal/types"
)

// Builder orchestrates response shaping: estimate, reduce to budget,
// persist the untruncated result for later retrieval, annotate. Every
// operation funnels its raw batch through here instead of carrying its
// own truncation logic.
type Builder struct {
	budgetCfg config.Budget
	estimator *budget.Estimator
	reducer   *budget.Reducer
	store     *resource.Store
	ttl       time.Duration
	registry  *Registry
}

// Request is one shaping request. CostFn and PriorityFn may be nil; the
// estimator's generic item costing and input order are used instead.
type Request struct {
	// Items is the raw, unconstrained result batch in operation order.
	Items []any

	// Kind selects registered cost/priority functions when CostFn or
	// PriorityFn is nil.
	Kind Kind

	CostFn     types.CostFunc
	PriorityFn types.PriorityFunc

	// Budget bounds the retained set. Zero means the configured default.
	Budget types.TokenBudget

	// MaxResults is the caller's own cap, applied before any budget
	// reduction and never exceeded regardless of remaining budget.
	// Zero means uncapped.
	MaxResults int

	// Operation names the producing operation for the continuation hint.
	Operation string
}

// NewBuilder wires a builder from its parts.
func NewBuilder(cfg config.Budget, est *budget.Estimator, red *budget.Reducer, store *resource.Store, ttl time.Duration, registry *Registry) *Builder {
	return &Builder{
		budgetCfg: cfg,
		estimator: est,
		reducer:   red,
		store:     store,
		ttl:       ttl,
		registry:  registry,
	}
}

// Build shapes one response.
//
// The caller's max-results cap is applied first; the clamped set is then
// progressively reduced to the token budget. When reduction dropped
// anything, the original unclamped batch is stored so a follow-up is not
// bounded by the original cap, and the response carries the resource URI
// plus a continuation hint. TotalCount always reports the pre-reduction
// batch size, distinct from the retained count.
func (b *Builder) Build(ctx context.Context, req Request) (types.ReducedResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.ReducedResponse{}, err
	}

	costFn, priorityFn := b.resolve(req)

	tokenBudget := req.Budget
	if tokenBudget.MaxTokens <= 0 {
		tokenBudget.MaxTokens = b.budgetCfg.MaxTokens
	}
	if tokenBudget.MinUseful <= 0 {
		tokenBudget.MinUseful = b.budgetCfg.MinUsefulTokens
	}

	total := len(req.Items)
	clamped := req.Items
	if req.MaxResults > 0 && total > req.MaxResults {
		clamped = req.Items[:req.MaxResults]
	}

	reduced, err := b.reducer.Reduce(ctx, clamped, costFn, priorityFn, tokenBudget)
	if err != nil {
		return types.ReducedResponse{}, err
	}

	reduced.TotalCount = total

	if reduced.WasReduced {
		// Store the original, unclamped batch: a follow-up fetch should
		// see everything the operation produced, not just the capped
		// slice this response was built from.
		reduced.ResourceURI = b.store.Put(req.Items, b.ttl)
		reduced.Continuation = continuationHint(req.Operation, reduced)
		debug.LogShape("reduced %s response %d -> %d items, overflow at %s\n",
			req.Operation, total, reduced.RetainedCount, reduced.ResourceURI)
	}

	return reduced, nil
}

// resolve picks cost and priority functions from the request or the
// registry, falling back to generic JSON-size costing.
func (b *Builder) resolve(req Request) (types.CostFunc, types.PriorityFunc) {
	costFn := req.CostFn
	priorityFn := req.PriorityFn
	if b.registry != nil && (costFn == nil || priorityFn == nil) {
		profile := b.registry.Profile(req.Kind)
		if costFn == nil {
			costFn = profile.Cost
		}
		if priorityFn == nil {
			priorityFn = profile.Priority
		}
	}
	if costFn == nil {
		costFn = b.estimator.EstimateItem
	}
	return costFn, priorityFn
}

func continuationHint(operation string, r types.ReducedResponse) string {
	op := operation
	if op == "" {
		op = "the operation"
	}
	if r.HardTruncated {
		return fmt.Sprintf(
			"Result hard-truncated to %d of %d items; even the smallest candidate exceeded the token budget. Fetch %s for the full set.",
			r.RetainedCount, r.TotalCount, r.ResourceURI)
	}
	return fmt.Sprintf(
		"Showing %d of %d items. Fetch %s for the full result, or re-run %s with a higher token budget or max_results.",
		r.RetainedCount, r.TotalCount, r.ResourceURI, op)
}
