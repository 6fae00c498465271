package adapter

import (
	"context"
	"time"
)

// SourceQuote is the raw answer of one price source for one asset
type SourceQuote struct {
	Price     float64
	Change24h *float64
}

// PriceSource is the single shape every upstream price provider is
// written against. Sources are interchangeable; the resolver tries them
// in a fixed priority order.
type PriceSource interface {
	// Name returns the source identifier recorded in quote provenance
	Name() string

	// MaxBatchSize returns the largest id set one call may carry.
	// Sources without batch support return 1.
	MaxBatchSize() int

	// GetCurrentPrices resolves current USD prices for a set of asset
	// ids. Individual misses are simply absent from the result map;
	// only transport-level failures return an error.
	GetCurrentPrices(ctx context.Context, ids []string) (map[string]SourceQuote, error)

	// GetHistoricalPrice resolves the USD price of an asset at a past
	// date. Sources without history support return an error.
	GetHistoricalPrice(ctx context.Context, id string, at time.Time) (float64, error)
}
