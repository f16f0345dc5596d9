package budget

import (
	"context"
	"sort"

	"github.com/keelframe/keel/internal/config"
	"github.com/keelframe/keel/internal/debug"
	"github.com/keelframe/keel/internal/types"
)

// Reducer shrinks a priority-ordered batch until its estimated cost fits
// a token budget. One reducer serves all result kinds; the cost and
// priority functions carry the per-kind knowledge.
type Reducer struct {
	est   *Estimator
	steps []int
}

// NewReducer creates a reducer with the configured descending step
// sequence.
func NewReducer(cfg config.Budget, est *Estimator) *Reducer {
	return &Reducer{
		est:   est,
		steps: append([]int(nil), cfg.Steps...),
	}
}

// Reduce returns the largest candidate prefix that fits the budget.
//
// The fast path estimates the whole batch by sampling; only when that
// overflows does the reducer sort by priority (ties broken by original
// order for determinism) and try the fixed descending candidate counts,
// costing each small candidate exactly. If even the smallest candidate
// overflows, it is returned anyway flagged hard-truncated: a non-empty
// input never reduces to nothing.
//
// Cancellation is checked between candidate costings; partial work is
// discarded, never returned.
func (r *Reducer) Reduce(ctx context.Context, items []any, costFn types.CostFunc, priorityFn types.PriorityFunc, budget types.TokenBudget) (types.ReducedResponse, error) {
	n := len(items)
	if n == 0 {
		return types.ReducedResponse{Items: []any{}}, nil
	}

	if err := ctx.Err(); err != nil {
		return types.ReducedResponse{}, err
	}

	maxTokens := budget.MaxTokens
	if maxTokens < budget.MinUseful {
		maxTokens = budget.MinUseful
	}

	estimate := r.est.EstimateBatch(items, costFn)
	if estimate <= maxTokens {
		return types.ReducedResponse{
			Items:          items,
			RetainedTokens: estimate,
			TotalCount:     n,
			RetainedCount:  n,
		}, nil
	}

	ordered := orderByPriority(items, priorityFn)

	var (
		candidate []any
		cost      int
	)
	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return types.ReducedResponse{}, err
		}

		k := step
		if k > n {
			k = n
		}
		if candidate != nil && k == len(candidate) {
			continue // same candidate as the previous clamped step
		}

		candidate = ordered[:k]
		cost = r.est.ExactCost(candidate, costFn)
		debug.LogShape("candidate %d items -> %d tokens (budget %d)\n", k, cost, maxTokens)

		if cost <= maxTokens {
			return types.ReducedResponse{
				Items:          candidate,
				WasReduced:     true,
				RetainedTokens: cost,
				TotalCount:     n,
				RetainedCount:  k,
			}, nil
		}
	}

	// Even the smallest candidate overflows. Return it flagged rather
	// than returning nothing.
	return types.ReducedResponse{
		Items:          candidate,
		WasReduced:     true,
		HardTruncated:  true,
		RetainedTokens: cost,
		TotalCount:     n,
		RetainedCount:  len(candidate),
	}, nil
}

// orderByPriority sorts a copy of items by descending priority score with
// original order breaking ties, so repeated calls with identical input
// retain identical prefixes.
func orderByPriority(items []any, priorityFn types.PriorityFunc) []any {
	ordered := append([]any(nil), items...)
	if priorityFn == nil {
		return ordered
	}

	type ranked struct {
		item  any
		score float64
		index int
	}
	rankedItems := make([]ranked, len(items))
	for i, item := range items {
		rankedItems[i] = ranked{item: item, score: priorityFn(item), index: i}
	}
	sort.SliceStable(rankedItems, func(a, b int) bool {
		if rankedItems[a].score != rankedItems[b].score {
			return rankedItems[a].score > rankedItems[b].score
		}
		return rankedItems[a].index < rankedItems[b].index
	})
	for i, ri := range rankedItems {
		ordered[i] = ri.item
	}
	return ordered
}
