package budget

import (
	"encoding/json"
	"fmt"

	"github.com/keelframe/keel/internal/config"
	"github.com/keelframe/keel/internal/debug"
	keelerrors "github.com/keelframe/keel/internal/errors"
	"github.com/keelframe/keel/internal/types"
)

// Estimator provides token cost estimation for result items and batches.
// Costs are estimates, not measurements: the downstream consumer tokenizes
// text its own way, so we aim for cheap and slightly conservative.
type Estimator struct {
	charsPerToken float64
	jsonOverhead  float64
	sampleSize    int
	irregularity  float64
	envelope      int
	fallbackItem  int
}

// NewEstimator creates an estimator from budget configuration.
func NewEstimator(cfg config.Budget) *Estimator {
	return &Estimator{
		charsPerToken: cfg.CharsPerToken,
		jsonOverhead:  cfg.JSONOverhead,
		sampleSize:    cfg.SampleSize,
		irregularity:  cfg.Irregularity,
		envelope:      cfg.EnvelopeTokens,
		fallbackItem:  cfg.FallbackItemTokens,
	}
}

// EstimateItem estimates the serialized token cost of one item from its
// JSON size. Strings dominate the cost; nested collections are covered
// because marshaling serializes them recursively.
func (e *Estimator) EstimateItem(item any) int {
	jsonBytes, err := json.Marshal(item)
	if err != nil {
		// Unserializable items still cost something when formatted.
		return int(float64(len(fmt.Sprintf("%v", item))) / e.charsPerToken * e.jsonOverhead)
	}
	return int(float64(len(jsonBytes)) / e.charsPerToken * e.jsonOverhead)
}

// ItemCost applies costFn to an item, recovering from panics and errors
// by degrading to the fixed conservative fallback estimate. A broken cost
// function must never fail the whole response.
func (e *Estimator) ItemCost(costFn types.CostFunc, index int, item any) (cost int) {
	if costFn == nil {
		return e.EstimateItem(item)
	}

	defer func() {
		if r := recover(); r != nil {
			err := keelerrors.NewEstimationError(index, fmt.Errorf("cost function panic: %v", r))
			debug.LogShape("degrading to fallback estimate: %v\n", err)
			cost = e.fallbackItem
		}
	}()

	cost = costFn(item)
	if cost < 0 {
		err := keelerrors.NewEstimationError(index, fmt.Errorf("negative cost %d", cost))
		debug.LogShape("degrading to fallback estimate: %v\n", err)
		cost = e.fallbackItem
	}
	return cost
}

// EstimateBatch estimates the total cost of a batch without costing every
// item: it averages a small prefix sample and extrapolates, adding the
// fixed envelope overhead. When the sample is irregular (max sampled cost
// beyond the configured multiple of the average) it falls back to exact
// summation, which is affordable because irregular batches are typically
// small.
func (e *Estimator) EstimateBatch(items []any, costFn types.CostFunc) int {
	n := len(items)
	if n == 0 {
		return e.envelope
	}

	if n <= e.sampleSize {
		return e.exactSum(items, costFn) + e.envelope
	}

	sampleTotal := 0
	sampleMax := 0
	for i := 0; i < e.sampleSize; i++ {
		c := e.ItemCost(costFn, i, items[i])
		sampleTotal += c
		if c > sampleMax {
			sampleMax = c
		}
	}
	avg := float64(sampleTotal) / float64(e.sampleSize)

	if avg > 0 && float64(sampleMax) > e.irregularity*avg {
		debug.LogShape("irregular batch (max %d vs avg %.1f), exact summation over %d items\n", sampleMax, avg, n)
		return e.exactSum(items, costFn) + e.envelope
	}

	return int(avg*float64(n)) + e.envelope
}

// ExactCost sums per-item costs for a candidate set plus the envelope.
// Used by the reducer where candidates are small enough for exact costing.
func (e *Estimator) ExactCost(items []any, costFn types.CostFunc) int {
	return e.exactSum(items, costFn) + e.envelope
}

func (e *Estimator) exactSum(items []any, costFn types.CostFunc) int {
	total := 0
	for i, item := range items {
		total += e.ItemCost(costFn, i, item)
	}
	return total
}
