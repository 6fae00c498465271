// Package types provides common type definitions for the wallet analyzer system.
package types

import "time"

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainSolana represents the Solana mainnet
	ChainSolana ChainID = "solana"
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
)

// SupportedChains lists the chains the analyzer can process
var SupportedChains = []ChainID{ChainSolana, ChainEthereum}

// IsSupported reports whether the chain is known to the analyzer
func (c ChainID) IsSupported() bool {
	for _, chain := range SupportedChains {
		if c == chain {
			return true
		}
	}
	return false
}

// NativeSymbol returns the native asset symbol for a chain
func (c ChainID) NativeSymbol() string {
	switch c {
	case ChainSolana:
		return "SOL"
	case ChainEthereum:
		return "ETH"
	default:
		return ""
	}
}

// Window represents a named historical range for time-series reporting
type Window string

const (
	// WindowAll covers the full lifetime of the wallet
	WindowAll Window = "all"
	// WindowYear covers the trailing 365 days
	WindowYear Window = "year"
	// WindowSixMonths covers the trailing 182 days
	WindowSixMonths Window = "sixMonths"
	// WindowThreeMonths covers the trailing 90 days
	WindowThreeMonths Window = "threeMonths"
)

// Days returns the window length in days. WindowAll returns 0, meaning
// "bounded by the wallet's earliest activity".
func (w Window) Days() int {
	switch w {
	case WindowYear:
		return 365
	case WindowSixMonths:
		return 182
	case WindowThreeMonths:
		return 90
	default:
		return 0
	}
}

// IsValid reports whether the window name is recognized
func (w Window) IsValid() bool {
	switch w {
	case WindowAll, WindowYear, WindowSixMonths, WindowThreeMonths:
		return true
	}
	return false
}

// PerformanceTier is a discrete bucket derived from performance percentage
type PerformanceTier string

const (
	// TierExcellent represents performance of 20% or better
	TierExcellent PerformanceTier = "excellent"
	// TierGood represents performance in [5%, 20%)
	TierGood PerformanceTier = "good"
	// TierNeutral represents performance in [-5%, 5%)
	TierNeutral PerformanceTier = "neutral"
	// TierBad represents performance in [-20%, -5%)
	TierBad PerformanceTier = "bad"
	// TierTerrible represents performance below -20%
	TierTerrible PerformanceTier = "terrible"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Asset identifies a token on a chain. Immutable once recognized.
type Asset struct {
	ID       string `json:"id"`     // chain-native symbol or contract/mint address
	Symbol   string `json:"symbol"` // display symbol (e.g., "SOL", "USDC")
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
}

// TransferEvent is a single signed balance change for a wallet.
// Quantity is positive for acquisitions and negative for disposals.
type TransferEvent struct {
	Asset        Asset     `json:"asset"`
	Quantity     float64   `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
	Reference    string    `json:"reference"` // external id (tx hash / signature)
	Counterparty string    `json:"counterparty,omitempty"`
}

// IsAcquisition reports whether the event adds to the wallet's holdings
func (e *TransferEvent) IsAcquisition() bool {
	return e.Quantity > 0
}

// AcquisitionLot tracks the running weighted-average acquisition cost
// and remaining quantity for one asset. RemainingQuantity never goes
// below zero: disposals larger than the tracked quantity clamp to zero,
// reflecting untracked prior acquisitions such as airdrops.
type AcquisitionLot struct {
	AssetID           string    `json:"assetId"`
	RemainingQuantity float64   `json:"remainingQuantity"`
	AverageUnitCost   float64   `json:"averageUnitCost"`
	FirstAcquiredAt   time.Time `json:"firstAcquiredAt"`
}

// CostBasis returns the tracked acquisition value still held
func (l *AcquisitionLot) CostBasis() float64 {
	return l.RemainingQuantity * l.AverageUnitCost
}

// PriceQuote is a resolved unit price with provenance
type PriceQuote struct {
	AssetID    string    `json:"assetId"`
	Symbol     string    `json:"symbol,omitempty"`
	Price      float64   `json:"price"` // USD
	Change24h  *float64  `json:"change24h,omitempty"`
	Source     string    `json:"source"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Balance is a current holding of one asset
type Balance struct {
	Asset    Asset   `json:"asset"`
	Quantity float64 `json:"quantity"`
}

// BalanceSnapshot is the normalized current-holdings view of a wallet
type BalanceSnapshot struct {
	Address string    `json:"address"`
	Chain   ChainID   `json:"chain"`
	Native  Balance   `json:"native"`
	Tokens  []Balance `json:"tokens"`
}

// HoldingValuation combines a current holding with its resolved price
// and cost basis
type HoldingValuation struct {
	Asset         Asset    `json:"asset"`
	Quantity      float64  `json:"quantity"`
	UnitPrice     float64  `json:"unitPrice"`
	PriceSource   string   `json:"priceSource"`
	Value         float64  `json:"value"`
	CostBasis     float64  `json:"costBasis"`
	UnrealizedPnL float64  `json:"unrealizedPnl"`
	Change24h     *float64 `json:"change24h,omitempty"`
	Estimated     bool     `json:"estimated"` // price degraded to a placeholder
}

// AllocationSlice is one entry of the allocation breakdown
type AllocationSlice struct {
	Symbol  string  `json:"symbol"`
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

// TimePoint is a single sample of a valuation curve
type TimePoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// WindowReport bundles the synthesized curve and change metrics for
// one named window
type WindowReport struct {
	Window        Window      `json:"window"`
	Points        []TimePoint `json:"points"`
	ChangeAmount  float64     `json:"changeAmount"`
	ChangePercent float64     `json:"changePercent"`
}

// RecentTransaction is a display-oriented excerpt of a transfer event
type RecentTransaction struct {
	Reference string    `json:"reference"`
	Symbol    string    `json:"symbol"`
	Quantity  float64   `json:"quantity"`
	Direction string    `json:"direction"` // "in" or "out"
	Timestamp time.Time `json:"timestamp"`
}

// Portfolio is the engine's output: a complete valuation report for one
// wallet on one chain. Constructed fresh per analysis, immutable once
// returned, cached by (address, chain).
type Portfolio struct {
	AnalysisID         string              `json:"analysisId"`
	Address            string              `json:"address"`
	Chain              ChainID             `json:"chain"`
	ComputedAt         time.Time           `json:"computedAt"`
	TotalValue         float64             `json:"totalValue"`
	TotalCostBasis     float64             `json:"totalCostBasis"`
	TotalUnrealizedPnL float64             `json:"totalUnrealizedPnl"`
	PerformancePercent *float64            `json:"performancePercent,omitempty"` // nil = undefined (zero cost basis)
	Tier               PerformanceTier     `json:"tier"`
	Holdings           []HoldingValuation  `json:"holdings"` // ranked by value, descending
	Winners            []HoldingValuation  `json:"winners"`  // top by 24h change
	Losers             []HoldingValuation  `json:"losers"`
	Allocation         []AllocationSlice   `json:"allocation"`
	SelectedWindow     Window              `json:"selectedWindow"`
	Windows            []WindowReport      `json:"windows"`
	RecentTransactions []RecentTransaction `json:"recentTransactions,omitempty"`
	EstimatedPrices    int                 `json:"estimatedPrices"` // holdings valued with a placeholder price
	EventCount         int                 `json:"eventCount"`
}
