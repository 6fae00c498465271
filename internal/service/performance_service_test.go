package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-analyzer/internal/types"
)

func TestTierForPercent_Boundaries(t *testing.T) {
	tests := []struct {
		percent float64
		want    types.PerformanceTier
	}{
		{percent: 150.0, want: types.TierExcellent},
		{percent: 20.0, want: types.TierExcellent},
		{percent: 19.99, want: types.TierGood},
		{percent: 5.0, want: types.TierGood},
		{percent: 4.99, want: types.TierNeutral},
		{percent: 0.0, want: types.TierNeutral},
		{percent: -5.0, want: types.TierNeutral},
		{percent: -5.01, want: types.TierBad},
		{percent: -20.0, want: types.TierBad},
		{percent: -20.01, want: types.TierTerrible},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForPercent(tt.percent), "percent %v", tt.percent)
	}
}

func TestPlaceholderPrice(t *testing.T) {
	// 0.1/10^floor(log10(qty)), floored at 0.0001
	assert.InDelta(t, 0.1, PlaceholderPrice(1), 1e-12)
	assert.InDelta(t, 0.1, PlaceholderPrice(9.99), 1e-12)
	assert.InDelta(t, 0.01, PlaceholderPrice(10), 1e-12)
	assert.InDelta(t, 0.001, PlaceholderPrice(500), 1e-12)
	assert.InDelta(t, 1.0, PlaceholderPrice(0.5), 1e-12)
	assert.Equal(t, 0.0001, PlaceholderPrice(1e9))
	assert.Equal(t, 0.0001, PlaceholderPrice(0))
	assert.Equal(t, 0.0001, PlaceholderPrice(-3))
}

func TestPerformanceCalculator_ValuateWithQuote(t *testing.T) {
	calc := NewPerformanceCalculator()

	holdings := calc.Valuate([]HoldingInput{
		{
			Asset:    types.Asset{ID: "tkn", Symbol: "TKN"},
			Quantity: 6,
			Quote:    &types.PriceQuote{AssetID: "tkn", Price: 5.0, Source: "jupiter"},
			Lot:      &types.AcquisitionLot{AssetID: "tkn", RemainingQuantity: 6, AverageUnitCost: 2.0},
		},
	})

	require.Len(t, holdings, 1)
	h := holdings[0]
	assert.Equal(t, 30.0, h.Value)
	assert.Equal(t, 12.0, h.CostBasis)
	assert.Equal(t, 18.0, h.UnrealizedPnL)
	assert.False(t, h.Estimated)
}

func TestPerformanceCalculator_ValuateUnavailablePrice(t *testing.T) {
	calc := NewPerformanceCalculator()

	holdings := calc.Valuate([]HoldingInput{
		{Asset: types.Asset{ID: "dust", Symbol: "DST"}, Quantity: 500},
	})

	require.Len(t, holdings, 1)
	h := holdings[0]
	assert.True(t, h.Estimated)
	assert.InDelta(t, 0.001, h.UnitPrice, 1e-12)
	assert.InDelta(t, 0.5, h.Value, 1e-12, "placeholder keeps unpriceable positions near a dime, not zero")
}

func TestPerformanceCalculator_ValuateSkipsEmptyAndRanksByValue(t *testing.T) {
	calc := NewPerformanceCalculator()

	holdings := calc.Valuate([]HoldingInput{
		{Asset: types.Asset{ID: "a", Symbol: "A"}, Quantity: 1, Quote: &types.PriceQuote{Price: 10}},
		{Asset: types.Asset{ID: "b", Symbol: "B"}, Quantity: 0},
		{Asset: types.Asset{ID: "c", Symbol: "C"}, Quantity: 1, Quote: &types.PriceQuote{Price: 100}},
	})

	require.Len(t, holdings, 2)
	assert.Equal(t, "C", holdings[0].Asset.Symbol)
	assert.Equal(t, "A", holdings[1].Asset.Symbol)
}

func TestPerformanceCalculator_SummarizeScenario(t *testing.T) {
	// 10 acquired at $2, 4 disposed, price now $5: value $30,
	// basis $12, P&L $18, 150%, excellent.
	calc := NewPerformanceCalculator()

	holdings := calc.Valuate([]HoldingInput{
		{
			Asset:    types.Asset{ID: "tkn", Symbol: "TKN"},
			Quantity: 6,
			Quote:    &types.PriceQuote{AssetID: "tkn", Price: 5.0, Source: "jupiter"},
			Lot:      &types.AcquisitionLot{AssetID: "tkn", RemainingQuantity: 6, AverageUnitCost: 2.0},
		},
	})
	summary := calc.Summarize(holdings)

	assert.Equal(t, 30.0, summary.TotalValue)
	assert.Equal(t, 12.0, summary.TotalCostBasis)
	assert.Equal(t, 18.0, summary.TotalUnrealizedPnL)
	require.NotNil(t, summary.PerformancePercent)
	assert.InDelta(t, 150.0, *summary.PerformancePercent, 1e-9)
	assert.Equal(t, types.TierExcellent, summary.Tier)
}

func TestPerformanceCalculator_ZeroBasisLeavesPercentUndefined(t *testing.T) {
	calc := NewPerformanceCalculator()
	up := 25.0

	holdings := calc.Valuate([]HoldingInput{
		{
			Asset:    types.Asset{ID: "drop", Symbol: "DROP"},
			Quantity: 100,
			Quote:    &types.PriceQuote{Price: 1.0, Change24h: &up},
		},
	})
	summary := calc.Summarize(holdings)

	assert.Nil(t, summary.PerformancePercent)
	assert.Equal(t, types.TierExcellent, summary.Tier, "momentum fallback drives the tier")
}

func TestPerformanceCalculator_ZeroBasisNoMomentumIsNeutral(t *testing.T) {
	calc := NewPerformanceCalculator()

	holdings := calc.Valuate([]HoldingInput{
		{Asset: types.Asset{ID: "drop", Symbol: "DROP"}, Quantity: 100, Quote: &types.PriceQuote{Price: 1.0}},
	})
	summary := calc.Summarize(holdings)

	assert.Nil(t, summary.PerformancePercent)
	assert.Equal(t, types.TierNeutral, summary.Tier)
}

func TestPerformanceCalculator_WinnersAndLosers(t *testing.T) {
	calc := NewPerformanceCalculator()

	change := func(v float64) *float64 { return &v }
	var inputs []HoldingInput
	changes := []float64{12, -3, 8, -15, 2, -1, 30, 4, -8, 6, 1}
	for i, ch := range changes {
		inputs = append(inputs, HoldingInput{
			Asset:    types.Asset{ID: string(rune('a' + i)), Symbol: string(rune('A' + i))},
			Quantity: 1,
			Quote:    &types.PriceQuote{Price: 10, Change24h: change(ch)},
		})
	}
	// One holding without change data never qualifies as a mover
	inputs = append(inputs, HoldingInput{
		Asset:    types.Asset{ID: "x", Symbol: "X"},
		Quantity: 1,
		Quote:    &types.PriceQuote{Price: 10},
	})

	summary := calc.Summarize(calc.Valuate(inputs))

	require.Len(t, summary.Winners, 5)
	assert.Equal(t, 30.0, *summary.Winners[0].Change24h)
	for i := 1; i < len(summary.Winners); i++ {
		assert.GreaterOrEqual(t, *summary.Winners[i-1].Change24h, *summary.Winners[i].Change24h)
	}

	require.Len(t, summary.Losers, 4)
	assert.Equal(t, -15.0, *summary.Losers[0].Change24h)
	for _, l := range summary.Losers {
		assert.Negative(t, *l.Change24h)
	}
}

func TestPerformanceCalculator_AllocationCollapsesTail(t *testing.T) {
	calc := NewPerformanceCalculator()

	var inputs []HoldingInput
	values := []float64{50, 25, 15, 6, 3, 1}
	for i, v := range values {
		inputs = append(inputs, HoldingInput{
			Asset:    types.Asset{ID: string(rune('a' + i)), Symbol: string(rune('A' + i))},
			Quantity: 1,
			Quote:    &types.PriceQuote{Price: v},
		})
	}

	summary := calc.Summarize(calc.Valuate(inputs))

	require.Len(t, summary.Allocation, 5)
	assert.Equal(t, "A", summary.Allocation[0].Symbol)
	assert.InDelta(t, 50.0, summary.Allocation[0].Percent, 1e-9)
	assert.Equal(t, "Other", summary.Allocation[4].Symbol)
	assert.InDelta(t, 4.0, summary.Allocation[4].Value, 1e-9)

	var totalPercent float64
	for _, s := range summary.Allocation {
		totalPercent += s.Percent
	}
	assert.InDelta(t, 100.0, totalPercent, 1e-9)
}
