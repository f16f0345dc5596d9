package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelframe/keel/internal/config"
)

func testBudgetConfig() config.Budget {
	return config.Default(".").Budget
}

func TestEstimateItem_ScalesWithStringLength(t *testing.T) {
	est := NewEstimator(testBudgetConfig())

	small := est.EstimateItem(map[string]any{"text": "short"})
	large := est.EstimateItem(map[string]any{"text": strings.Repeat("x", 4000)})

	assert.Greater(t, small, 0)
	assert.Greater(t, large, small*10, "4000 chars should cost far more than 5")
}

func TestEstimateItem_NestedCollections(t *testing.T) {
	est := NewEstimator(testBudgetConfig())

	flat := est.EstimateItem(map[string]any{"lines": []string{"one"}})
	nested := est.EstimateItem(map[string]any{
		"lines": []string{"one", "two", "three", "four", "five", "six"},
	})

	assert.Greater(t, nested, flat)
}

func TestEstimateBatch_ExtrapolatesFromSample(t *testing.T) {
	est := NewEstimator(testBudgetConfig())

	item := map[string]any{"text": strings.Repeat("a", 400)}
	items := make([]any, 100)
	for i := range items {
		items[i] = item
	}

	perItem := est.EstimateItem(item)
	got := est.EstimateBatch(items, nil)

	// Uniform items: extrapolation should land near exact sum plus the
	// envelope.
	want := perItem*100 + config.DefaultEnvelopeTokens
	assert.InDelta(t, want, got, float64(perItem)*2)
}

func TestEstimateBatch_IrregularFallsBackToExactSum(t *testing.T) {
	// With a sample of n the max/avg ratio tops out just below n, so a
	// single outlier needs a threshold under the sample size to trip.
	cfg := testBudgetConfig()
	cfg.Irregularity = 2.0
	est := NewEstimator(cfg)

	// One sampled item far larger than the others.
	items := []any{
		map[string]any{"text": "a"},
		map[string]any{"text": strings.Repeat("b", 8000)},
		map[string]any{"text": "c"},
		map[string]any{"text": "d"},
		map[string]any{"text": "e"},
		map[string]any{"text": "f"},
		map[string]any{"text": "g"},
	}

	exact := 0
	for _, it := range items {
		exact += est.EstimateItem(it)
	}

	got := est.EstimateBatch(items, nil)
	assert.Equal(t, exact+config.DefaultEnvelopeTokens, got,
		"irregular sample must be summed exactly, not extrapolated")
}

func TestEstimateBatch_SmallBatchExact(t *testing.T) {
	est := NewEstimator(testBudgetConfig())

	items := []any{map[string]any{"text": "one"}, map[string]any{"text": "two"}}
	exact := est.EstimateItem(items[0]) + est.EstimateItem(items[1])

	assert.Equal(t, exact+config.DefaultEnvelopeTokens, est.EstimateBatch(items, nil))
}

func TestEstimateBatch_Empty(t *testing.T) {
	est := NewEstimator(testBudgetConfig())
	assert.Equal(t, config.DefaultEnvelopeTokens, est.EstimateBatch(nil, nil))
}

func TestItemCost_PanickingCostFunctionDegrades(t *testing.T) {
	cfg := testBudgetConfig()
	est := NewEstimator(cfg)

	panicFn := func(item any) int { panic("boom") }

	cost := est.ItemCost(panicFn, 0, map[string]any{"text": "x"})
	require.Equal(t, cfg.FallbackItemTokens, cost,
		"a broken cost function degrades to the conservative fallback")
}

func TestItemCost_NegativeCostDegrades(t *testing.T) {
	cfg := testBudgetConfig()
	est := NewEstimator(cfg)

	cost := est.ItemCost(func(any) int { return -5 }, 0, "x")
	assert.Equal(t, cfg.FallbackItemTokens, cost)
}

func TestItemCost_NilUsesGenericEstimate(t *testing.T) {
	est := NewEstimator(testBudgetConfig())
	item := map[string]any{"text": "hello"}
	assert.Equal(t, est.EstimateItem(item), est.ItemCost(nil, 0, item))
}
