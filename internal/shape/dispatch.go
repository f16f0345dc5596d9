package shape

import (
	"sync"

	"github.com/keelframe/keel/internal/budget"
	"github.com/keelframe/keel/internal/types"
)

// Kind tags a result variant so one builder can serve every operation.
// Each kind maps to the cost and priority functions that understand its
// items; operations register theirs once instead of re-implementing
// truncation at every call site.
type Kind string

const (
	KindGeneric    Kind = "generic"
	KindDefinition Kind = "definition"
	KindReference  Kind = "reference"
	KindDiagnostic Kind = "diagnostic"
	KindSymbol     Kind = "symbol"
)

// Profile bundles the per-kind shaping functions. A nil Priority keeps
// the batch in operation order.
type Profile struct {
	Cost     types.CostFunc
	Priority types.PriorityFunc
}

// Registry is the dispatch table from result kind to shaping profile.
type Registry struct {
	mu       sync.RWMutex
	profiles map[Kind]Profile
	fallback Profile
}

// NewRegistry creates a registry whose fallback costs items by their
// JSON size and preserves input order.
func NewRegistry(est *budget.Estimator) *Registry {
	r := &Registry{
		profiles: make(map[Kind]Profile),
		fallback: Profile{Cost: est.EstimateItem},
	}

	// Reference results carry a read/write distinction worth keeping
	// under pressure: definitions outrank write references outrank
	// reads. Items expose this through the Prioritized interface or a
	// "priority" map field.
	r.Register(KindReference, Profile{
		Cost:     est.EstimateItem,
		Priority: ItemPriority,
	})
	r.Register(KindDefinition, Profile{
		Cost:     est.EstimateItem,
		Priority: ItemPriority,
	})
	r.Register(KindSymbol, Profile{Cost: est.EstimateItem})
	r.Register(KindDiagnostic, Profile{Cost: est.EstimateItem})

	return r
}

// Register installs or replaces a kind's profile.
func (r *Registry) Register(kind Kind, profile Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[kind] = profile
}

// Profile returns the profile for a kind, or the generic fallback.
func (r *Registry) Profile(kind Kind) Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[kind]; ok {
		return p
	}
	return r.fallback
}

// Prioritized is implemented by result items that know their own
// reduction priority.
type Prioritized interface {
	ReductionPriority() float64
}

// ItemPriority extracts a priority score from an item: the Prioritized
// interface first, then a "priority" key for map items, else the context
// default.
func ItemPriority(item any) float64 {
	switch v := item.(type) {
	case Prioritized:
		return v.ReductionPriority()
	case map[string]any:
		if p, ok := v["priority"]; ok {
			switch n := p.(type) {
			case float64:
				return n
			case int:
				return float64(n)
			}
		}
	}
	return types.PriorityContext
}
