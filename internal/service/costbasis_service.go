package service

import (
	"sort"

	"github.com/wallet-analyzer/internal/types"
)

// PricedEvent pairs a transfer event with the unit price resolved for
// its timestamp. PriceResolved false means every source failed; the
// acquisition still counts, at zero cost.
type PricedEvent struct {
	Event         types.TransferEvent
	UnitPrice     float64
	PriceResolved bool
}

// CostBasisTracker replays a wallet's transfer history into per-asset
// acquisition lots carrying a running weighted-average unit cost.
type CostBasisTracker struct{}

// NewCostBasisTracker creates a new cost basis tracker
func NewCostBasisTracker() *CostBasisTracker {
	return &CostBasisTracker{}
}

// Replay folds transfer events into acquisition lots, one per asset.
// Events are processed oldest first; ties on timestamp keep their feed
// order. The result is independent of the input order for events with
// distinct timestamps, since replay always sorts before folding.
func (t *CostBasisTracker) Replay(events []PricedEvent) map[string]*types.AcquisitionLot {
	ordered := make([]PricedEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Event.Timestamp.Before(ordered[j].Event.Timestamp)
	})

	lots := make(map[string]*types.AcquisitionLot)
	for _, pe := range ordered {
		assetID := pe.Event.Asset.ID
		lot, ok := lots[assetID]
		if !ok {
			lot = &types.AcquisitionLot{AssetID: assetID}
			lots[assetID] = lot
		}

		qty := pe.Event.Quantity
		switch {
		case qty > 0:
			t.acquire(lot, pe, qty)
		case qty < 0:
			t.dispose(lot, -qty)
		}
	}

	return lots
}

// acquire folds a new acquisition into the running weighted average:
// newAvg = (oldAvg*oldQty + price*deltaQty) / (oldQty + deltaQty).
// An unresolvable price enters as zero, which dilutes the average
// instead of losing the quantity.
func (t *CostBasisTracker) acquire(lot *types.AcquisitionLot, pe PricedEvent, qty float64) {
	price := pe.UnitPrice
	if !pe.PriceResolved || price < 0 {
		price = 0
	}

	oldQty := lot.RemainingQuantity
	newQty := oldQty + qty
	if newQty > 0 {
		lot.AverageUnitCost = (lot.AverageUnitCost*oldQty + price*qty) / newQty
	}
	lot.RemainingQuantity = newQty

	if lot.FirstAcquiredAt.IsZero() || pe.Event.Timestamp.Before(lot.FirstAcquiredAt) {
		lot.FirstAcquiredAt = pe.Event.Timestamp
	}
}

// dispose reduces the remaining quantity, clamped at zero. The average
// unit cost is deliberately untouched: disposals beyond the tracked
// quantity reflect untracked acquisitions (airdrops, pre-history
// transfers), and zeroing the average would corrupt later acquisitions.
func (t *CostBasisTracker) dispose(lot *types.AcquisitionLot, qty float64) {
	lot.RemainingQuantity -= qty
	if lot.RemainingQuantity < 0 {
		lot.RemainingQuantity = 0
	}
}
