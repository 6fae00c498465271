package service

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wallet-analyzer/internal/errors"
	"github.com/wallet-analyzer/internal/logging"
	"github.com/wallet-analyzer/internal/types"
)

// solanaAddressPattern matches base58-encoded Solana public keys
var solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// Ledger is the balance/history surface the analyzer needs per chain
type Ledger interface {
	GetBalances(ctx context.Context, address string) (*types.BalanceSnapshot, error)
	GetTransferHistory(ctx context.Context, address string, limit int) ([]types.TransferEvent, error)
}

// Resolver is the pricing surface the analyzer needs
type Resolver interface {
	ResolveCurrent(ctx context.Context, chain types.ChainID, assetIDs []string, skipCache bool) map[string]*types.PriceQuote
	ResolveHistorical(ctx context.Context, chain types.ChainID, assetID string, at time.Time) (float64, bool)
}

// PortfolioCache is the portfolio-tier cache surface
type PortfolioCache interface {
	GetPortfolio(ctx context.Context, chain types.ChainID, address string) (*types.Portfolio, bool, error)
	SavePortfolio(ctx context.Context, portfolio *types.Portfolio) error
	InvalidatePortfolio(ctx context.Context, chain types.ChainID, address string) error
}

// SnapshotStore persists finished analyses
type SnapshotStore interface {
	Save(ctx context.Context, portfolio *types.Portfolio) error
}

// AssetRecorder learns which assets are worth sampling in the background
type AssetRecorder interface {
	Register(chain types.ChainID, assetIDs []string)
}

// AnalyzeInput describes one analysis request
type AnalyzeInput struct {
	Address      string        `json:"address"`
	Chain        types.ChainID `json:"chain"`
	Window       types.Window  `json:"window"`
	ForceRefresh bool          `json:"forceRefresh"`
}

// inflightAnalysis broadcasts the result of an in-progress analysis to
// every caller that requested the same wallet concurrently
type inflightAnalysis struct {
	done      chan struct{}
	portfolio *types.Portfolio
	err       error
}

// AnalyzerService runs the full valuation pipeline for one wallet:
// fetch balances and history, replay cost basis, resolve prices, score
// performance and synthesize curves. Concurrent requests for the same
// wallet share a single run.
type AnalyzerService struct {
	ledgers   map[types.ChainID]Ledger
	resolver  Resolver
	costBasis *CostBasisTracker
	perf      *PerformanceCalculator
	synth     *TimeSeriesSynthesizer
	cache     PortfolioCache
	snapshots SnapshotStore
	recorder  AssetRecorder

	maxEvents         int
	maxRecentTrades   int
	lookupConcurrency int

	inflightMu sync.Mutex
	inflight   map[string]*inflightAnalysis

	logger *logging.Logger
}

// NewAnalyzerService creates a new analyzer service. snapshots and
// recorder may be nil; persistence and sampling are best-effort.
func NewAnalyzerService(
	ledgers map[types.ChainID]Ledger,
	resolver Resolver,
	cache PortfolioCache,
	snapshots SnapshotStore,
	recorder AssetRecorder,
	maxEvents int,
	lookupConcurrency int,
) *AnalyzerService {
	if lookupConcurrency < 1 {
		lookupConcurrency = 1
	}
	return &AnalyzerService{
		ledgers:           ledgers,
		resolver:          resolver,
		costBasis:         NewCostBasisTracker(),
		perf:              NewPerformanceCalculator(),
		synth:             NewTimeSeriesSynthesizer(),
		cache:             cache,
		snapshots:         snapshots,
		recorder:          recorder,
		maxEvents:         maxEvents,
		maxRecentTrades:   20,
		lookupConcurrency: lookupConcurrency,
		inflight:          make(map[string]*inflightAnalysis),
		logger:            logging.Named("analyzer"),
	}
}

// ValidateInput rejects malformed requests before any upstream call
func (s *AnalyzerService) ValidateInput(input *AnalyzeInput) error {
	if !input.Chain.IsSupported() {
		return errors.NewUnsupportedChainError(string(input.Chain))
	}
	if input.Window == "" {
		input.Window = types.WindowAll
	}
	if !input.Window.IsValid() {
		return errors.NewInvalidParameterError("window", "must be one of: all, year, sixMonths, threeMonths")
	}

	switch input.Chain {
	case types.ChainEthereum:
		if !common.IsHexAddress(input.Address) {
			return errors.NewInvalidAddressError(input.Address, input.Chain)
		}
	case types.ChainSolana:
		if !solanaAddressPattern.MatchString(input.Address) {
			return errors.NewInvalidAddressError(input.Address, input.Chain)
		}
	}
	return nil
}

// AnalyzeWallet produces the portfolio for one wallet, from cache when
// possible. ForceRefresh bypasses both cache tiers.
func (s *AnalyzerService) AnalyzeWallet(ctx context.Context, input *AnalyzeInput) (*types.Portfolio, error) {
	if err := s.ValidateInput(input); err != nil {
		return nil, err
	}

	if input.ForceRefresh {
		if err := s.cache.InvalidatePortfolio(ctx, input.Chain, input.Address); err != nil {
			s.logger.WithError(err).Warn("failed to invalidate portfolio cache")
		}
	} else {
		if portfolio, found, err := s.cache.GetPortfolio(ctx, input.Chain, input.Address); err == nil && found {
			return withSelectedWindow(portfolio, input.Window), nil
		}
	}

	portfolio, err := s.analyzeShared(ctx, input)
	if err != nil {
		return nil, err
	}
	return withSelectedWindow(portfolio, input.Window), nil
}

// analyzeShared coalesces concurrent analyses of the same wallet into
// one pipeline run
func (s *AnalyzerService) analyzeShared(ctx context.Context, input *AnalyzeInput) (*types.Portfolio, error) {
	key := string(input.Chain) + ":" + input.Address

	s.inflightMu.Lock()
	if existing, ok := s.inflight[key]; ok {
		s.inflightMu.Unlock()
		select {
		case <-existing.done:
			return existing.portfolio, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	run := &inflightAnalysis{done: make(chan struct{})}
	s.inflight[key] = run
	s.inflightMu.Unlock()

	run.portfolio, run.err = s.analyze(ctx, input)
	close(run.done)

	s.inflightMu.Lock()
	delete(s.inflight, key)
	s.inflightMu.Unlock()

	return run.portfolio, run.err
}

func (s *AnalyzerService) analyze(ctx context.Context, input *AnalyzeInput) (*types.Portfolio, error) {
	ledger, ok := s.ledgers[input.Chain]
	if !ok {
		return nil, errors.NewUnsupportedChainError(string(input.Chain))
	}

	start := time.Now()

	// Balances and history are independent upstream calls
	var snapshot *types.BalanceSnapshot
	var events []types.TransferEvent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshot, err = ledger.GetBalances(gctx, input.Address)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = ledger.GetTransferHistory(gctx, input.Address, s.maxEvents)
		return err
	})
	if err := g.Wait(); err != nil {
		// Every provider behind the failover already failed; nothing
		// left to degrade to.
		return nil, errors.NewTotalFailureError(input.Address, err)
	}

	if len(events) == 0 {
		s.logger.WithFields(map[string]interface{}{
			"address": input.Address,
			"chain":   string(input.Chain),
		}).Info("no transfer history, valuing balances without cost basis")
	}

	lots := s.costBasis.Replay(s.priceEvents(ctx, input.Chain, events))
	holdings := s.valuateHoldings(ctx, input, snapshot, lots)
	summary := s.perf.Summarize(holdings)

	firstActivity := earliestTimestamp(events)
	portfolio := &types.Portfolio{
		AnalysisID:         uuid.New().String(),
		Address:            input.Address,
		Chain:              input.Chain,
		ComputedAt:         time.Now().UTC(),
		TotalValue:         summary.TotalValue,
		TotalCostBasis:     summary.TotalCostBasis,
		TotalUnrealizedPnL: summary.TotalUnrealizedPnL,
		PerformancePercent: summary.PerformancePercent,
		Tier:               summary.Tier,
		Holdings:           summary.Holdings,
		Winners:            summary.Winners,
		Losers:             summary.Losers,
		Allocation:         summary.Allocation,
		SelectedWindow:     input.Window,
		Windows:            s.synth.SynthesizeAll(input.Address, summary.TotalValue, time.Now().UTC(), firstActivity),
		RecentTransactions: recentTransactions(events, s.maxRecentTrades),
		EstimatedPrices:    summary.EstimatedPrices,
		EventCount:         len(events),
	}

	if err := s.cache.SavePortfolio(ctx, portfolio); err != nil {
		s.logger.WithError(err).Warn("failed to cache portfolio")
	}
	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, portfolio); err != nil {
			s.logger.WithError(err).Warn("failed to persist analysis snapshot")
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"address":  input.Address,
		"chain":    string(input.Chain),
		"holdings": len(portfolio.Holdings),
		"events":   portfolio.EventCount,
		"duration": time.Since(start).String(),
	}).Info("wallet analysis complete")

	return portfolio, nil
}

// priceEvents resolves a historical unit price for every acquisition.
// Lookups are deduplicated by asset and day and run concurrently up to
// the configured limit; disposals need no price.
func (s *AnalyzerService) priceEvents(ctx context.Context, chain types.ChainID, events []types.TransferEvent) []PricedEvent {
	type dayKey struct {
		assetID string
		day     string
	}
	type histPrice struct {
		price float64
		ok    bool
	}

	keyFor := func(e types.TransferEvent) dayKey {
		return dayKey{assetID: e.Asset.ID, day: e.Timestamp.UTC().Format("2006-01-02")}
	}

	wanted := make(map[dayKey]time.Time)
	for _, e := range events {
		if !e.IsAcquisition() {
			continue
		}
		key := keyFor(e)
		if _, seen := wanted[key]; !seen {
			wanted[key] = e.Timestamp
		}
	}

	resolved := make(map[dayKey]histPrice, len(wanted))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.lookupConcurrency)
	for key, at := range wanted {
		g.Go(func() error {
			price, ok := s.resolver.ResolveHistorical(ctx, chain, key.assetID, at)
			mu.Lock()
			resolved[key] = histPrice{price: price, ok: ok}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	priced := make([]PricedEvent, len(events))
	for i, e := range events {
		priced[i] = PricedEvent{Event: e}
		if !e.IsAcquisition() {
			continue
		}
		entry := resolved[keyFor(e)]
		priced[i].UnitPrice = entry.price
		priced[i].PriceResolved = entry.ok
	}
	return priced
}

// valuateHoldings pairs current balances with resolved prices and
// replayed lots
func (s *AnalyzerService) valuateHoldings(ctx context.Context, input *AnalyzeInput, snapshot *types.BalanceSnapshot, lots map[string]*types.AcquisitionLot) []types.HoldingValuation {
	balances := make([]types.Balance, 0, len(snapshot.Tokens)+1)
	if snapshot.Native.Quantity > 0 {
		balances = append(balances, snapshot.Native)
	}
	balances = append(balances, snapshot.Tokens...)

	assetIDs := make([]string, 0, len(balances))
	for _, b := range balances {
		assetIDs = append(assetIDs, b.Asset.ID)
	}
	if s.recorder != nil {
		s.recorder.Register(input.Chain, assetIDs)
	}

	quotes := s.resolver.ResolveCurrent(ctx, input.Chain, assetIDs, input.ForceRefresh)

	inputs := make([]HoldingInput, 0, len(balances))
	for _, b := range balances {
		inputs = append(inputs, HoldingInput{
			Asset:    b.Asset,
			Quantity: b.Quantity,
			Quote:    quotes[b.Asset.ID],
			Lot:      lots[b.Asset.ID],
		})
	}
	return s.perf.Valuate(inputs)
}

// withSelectedWindow returns a shallow copy carrying the caller's
// window choice; cached portfolios hold every window's curve
func withSelectedWindow(portfolio *types.Portfolio, window types.Window) *types.Portfolio {
	out := *portfolio
	out.SelectedWindow = window
	return &out
}

func earliestTimestamp(events []types.TransferEvent) time.Time {
	var earliest time.Time
	for _, e := range events {
		if earliest.IsZero() || e.Timestamp.Before(earliest) {
			earliest = e.Timestamp
		}
	}
	return earliest
}

// recentTransactions returns the latest events as display rows
func recentTransactions(events []types.TransferEvent, limit int) []types.RecentTransaction {
	ordered := make([]types.TransferEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	recent := make([]types.RecentTransaction, 0, len(ordered))
	for _, e := range ordered {
		direction := "in"
		qty := e.Quantity
		if qty < 0 {
			direction = "out"
			qty = -qty
		}
		recent = append(recent, types.RecentTransaction{
			Reference: e.Reference,
			Symbol:    e.Asset.Symbol,
			Quantity:  qty,
			Direction: direction,
			Timestamp: e.Timestamp,
		})
	}
	return recent
}
