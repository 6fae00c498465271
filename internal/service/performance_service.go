package service

import (
	"math"
	"sort"

	"github.com/wallet-analyzer/internal/types"
)

const (
	topMoversCount  = 5
	allocationSlots = 4
)

// HoldingInput is one current holding with whatever pricing and cost
// data could be resolved for it
type HoldingInput struct {
	Asset    types.Asset
	Quantity float64
	Quote    *types.PriceQuote     // nil when every source failed
	Lot      *types.AcquisitionLot // nil when history never touched the asset
}

// PortfolioSummary aggregates valued holdings into headline numbers
type PortfolioSummary struct {
	TotalValue         float64
	TotalCostBasis     float64
	TotalUnrealizedPnL float64
	PerformancePercent *float64
	Tier               types.PerformanceTier
	Holdings           []types.HoldingValuation
	Winners            []types.HoldingValuation
	Losers             []types.HoldingValuation
	Allocation         []types.AllocationSlice
	EstimatedPrices    int
}

// PerformanceCalculator values holdings and derives portfolio-level
// performance metrics
type PerformanceCalculator struct{}

// NewPerformanceCalculator creates a new performance calculator
func NewPerformanceCalculator() *PerformanceCalculator {
	return &PerformanceCalculator{}
}

// PlaceholderPrice returns the stand-in unit price for a holding whose
// price could not be resolved: max(0.0001, 0.1/10^floor(log10(qty))).
// The scaling keeps the placeholder value of any position near a dime
// instead of letting large positions of unpriceable dust dominate the
// portfolio.
func PlaceholderPrice(quantity float64) float64 {
	if quantity <= 0 {
		return 0.0001
	}
	price := 0.1 / math.Pow(10, math.Floor(math.Log10(quantity)))
	return math.Max(0.0001, price)
}

// TierForPercent maps a performance percentage to its discrete tier
func TierForPercent(percent float64) types.PerformanceTier {
	switch {
	case percent >= 20:
		return types.TierExcellent
	case percent >= 5:
		return types.TierGood
	case percent >= -5:
		return types.TierNeutral
	case percent >= -20:
		return types.TierBad
	default:
		return types.TierTerrible
	}
}

// Valuate prices each holding. Missing quotes degrade to a placeholder
// price and mark the valuation as estimated rather than dropping the
// holding or valuing it at zero.
func (c *PerformanceCalculator) Valuate(inputs []HoldingInput) []types.HoldingValuation {
	holdings := make([]types.HoldingValuation, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			continue
		}

		h := types.HoldingValuation{
			Asset:    in.Asset,
			Quantity: in.Quantity,
		}

		if in.Quote != nil && in.Quote.Price > 0 {
			h.UnitPrice = in.Quote.Price
			h.PriceSource = in.Quote.Source
			h.Change24h = in.Quote.Change24h
		} else {
			h.UnitPrice = PlaceholderPrice(in.Quantity)
			h.PriceSource = "estimate"
			h.Estimated = true
		}

		h.Value = in.Quantity * h.UnitPrice
		if in.Lot != nil {
			h.CostBasis = in.Quantity * in.Lot.AverageUnitCost
		}
		h.UnrealizedPnL = h.Value - h.CostBasis

		holdings = append(holdings, h)
	}

	sort.SliceStable(holdings, func(i, j int) bool {
		return holdings[i].Value > holdings[j].Value
	})
	return holdings
}

// Summarize rolls valued holdings up into portfolio metrics. A zero or
// negative total cost basis leaves the percentage undefined; the tier
// then falls back to value-weighted 24h momentum.
func (c *PerformanceCalculator) Summarize(holdings []types.HoldingValuation) PortfolioSummary {
	summary := PortfolioSummary{
		Holdings: holdings,
		Tier:     types.TierNeutral,
	}

	for _, h := range holdings {
		summary.TotalValue += h.Value
		summary.TotalCostBasis += h.CostBasis
		summary.TotalUnrealizedPnL += h.UnrealizedPnL
		if h.Estimated {
			summary.EstimatedPrices++
		}
	}

	if summary.TotalCostBasis > 0 {
		percent := summary.TotalUnrealizedPnL / summary.TotalCostBasis * 100
		summary.PerformancePercent = &percent
		summary.Tier = TierForPercent(percent)
	} else if momentum, ok := weightedMomentum(holdings); ok {
		summary.Tier = TierForPercent(momentum)
	}

	summary.Winners, summary.Losers = topMovers(holdings)
	summary.Allocation = allocate(holdings, summary.TotalValue)

	return summary
}

// weightedMomentum is the value-weighted average 24h change across
// holdings that have change data
func weightedMomentum(holdings []types.HoldingValuation) (float64, bool) {
	var weighted, totalValue float64
	for _, h := range holdings {
		if h.Change24h == nil || h.Value <= 0 {
			continue
		}
		weighted += *h.Change24h * h.Value
		totalValue += h.Value
	}
	if totalValue <= 0 {
		return 0, false
	}
	return weighted / totalValue, true
}

// topMovers picks the strongest gainers and losers by 24h change.
// Holdings without change data never qualify.
func topMovers(holdings []types.HoldingValuation) (winners, losers []types.HoldingValuation) {
	var movers []types.HoldingValuation
	for _, h := range holdings {
		if h.Change24h != nil {
			movers = append(movers, h)
		}
	}

	sort.SliceStable(movers, func(i, j int) bool {
		return *movers[i].Change24h > *movers[j].Change24h
	})

	for _, h := range movers {
		if *h.Change24h > 0 && len(winners) < topMoversCount {
			winners = append(winners, h)
		}
	}
	for i := len(movers) - 1; i >= 0; i-- {
		if *movers[i].Change24h < 0 && len(losers) < topMoversCount {
			losers = append(losers, movers[i])
		}
	}
	return winners, losers
}

// allocate builds the allocation breakdown: the largest positions get
// their own slice, the tail collapses into "Other"
func allocate(holdings []types.HoldingValuation, totalValue float64) []types.AllocationSlice {
	if totalValue <= 0 {
		return nil
	}

	var slices []types.AllocationSlice
	var other float64
	for i, h := range holdings {
		if i < allocationSlots {
			slices = append(slices, types.AllocationSlice{
				Symbol:  h.Asset.Symbol,
				Value:   h.Value,
				Percent: h.Value / totalValue * 100,
			})
		} else {
			other += h.Value
		}
	}
	if other > 0 {
		slices = append(slices, types.AllocationSlice{
			Symbol:  "Other",
			Value:   other,
			Percent: other / totalValue * 100,
		})
	}
	return slices
}
