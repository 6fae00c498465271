package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-analyzer/internal/errors"
	"github.com/wallet-analyzer/internal/types"
)

const (
	testSolanaAddress   = "4Nd1mYQqLxW4U7inWpS1eoAXjimYyTYsDBJApj2xpmDq"
	testEthereumAddress = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
)

// mockLedger is a scripted Ledger
type mockLedger struct {
	snapshot    *types.BalanceSnapshot
	events      []types.TransferEvent
	balancesErr error
	historyErr  error
}

func (m *mockLedger) GetBalances(ctx context.Context, address string) (*types.BalanceSnapshot, error) {
	if m.balancesErr != nil {
		return nil, m.balancesErr
	}
	return m.snapshot, nil
}

func (m *mockLedger) GetTransferHistory(ctx context.Context, address string, limit int) ([]types.TransferEvent, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.events, nil
}

// mockResolver serves fixed current and historical prices
type mockResolver struct {
	current    map[string]float64
	historical map[string]float64
}

func (m *mockResolver) ResolveCurrent(ctx context.Context, chain types.ChainID, assetIDs []string, skipCache bool) map[string]*types.PriceQuote {
	out := make(map[string]*types.PriceQuote)
	for _, id := range assetIDs {
		if p, ok := m.current[id]; ok {
			out[id] = &types.PriceQuote{AssetID: id, Price: p, Source: "mock"}
		}
	}
	return out
}

func (m *mockResolver) ResolveHistorical(ctx context.Context, chain types.ChainID, assetID string, at time.Time) (float64, bool) {
	p, ok := m.historical[assetID]
	return p, ok
}

// mockPortfolioCache is an in-memory PortfolioCache
type mockPortfolioCache struct {
	portfolios  map[string]*types.Portfolio
	invalidated int
}

func newMockPortfolioCache() *mockPortfolioCache {
	return &mockPortfolioCache{portfolios: make(map[string]*types.Portfolio)}
}

func (m *mockPortfolioCache) key(chain types.ChainID, address string) string {
	return string(chain) + ":" + address
}

func (m *mockPortfolioCache) GetPortfolio(ctx context.Context, chain types.ChainID, address string) (*types.Portfolio, bool, error) {
	p, ok := m.portfolios[m.key(chain, address)]
	return p, ok, nil
}

func (m *mockPortfolioCache) SavePortfolio(ctx context.Context, portfolio *types.Portfolio) error {
	m.portfolios[m.key(portfolio.Chain, portfolio.Address)] = portfolio
	return nil
}

func (m *mockPortfolioCache) InvalidatePortfolio(ctx context.Context, chain types.ChainID, address string) error {
	m.invalidated++
	delete(m.portfolios, m.key(chain, address))
	return nil
}

// mockSnapshotStore records saves
type mockSnapshotStore struct {
	saved []*types.Portfolio
}

func (m *mockSnapshotStore) Save(ctx context.Context, portfolio *types.Portfolio) error {
	m.saved = append(m.saved, portfolio)
	return nil
}

func newTestAnalyzer(ledger Ledger, resolver Resolver, cache PortfolioCache, snapshots SnapshotStore) *AnalyzerService {
	return NewAnalyzerService(
		map[types.ChainID]Ledger{types.ChainSolana: ledger, types.ChainEthereum: ledger},
		resolver,
		cache,
		snapshots,
		nil,
		500,
		4,
	)
}

func TestAnalyzerService_FullScenario(t *testing.T) {
	// 10 tokens acquired at $2, 4 disposed, price now $5:
	// value $30, basis $12, P&L $18, 150%, excellent.
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	asset := types.Asset{ID: "tkn", Symbol: "TKN", Decimals: 6}

	ledger := &mockLedger{
		snapshot: &types.BalanceSnapshot{
			Address: testSolanaAddress,
			Chain:   types.ChainSolana,
			Tokens:  []types.Balance{{Asset: asset, Quantity: 6}},
		},
		events: []types.TransferEvent{
			{Asset: asset, Quantity: 10, Timestamp: t0, Reference: "sig1"},
			{Asset: asset, Quantity: -4, Timestamp: t0.Add(time.Hour), Reference: "sig2"},
		},
	}
	resolver := &mockResolver{
		current:    map[string]float64{"tkn": 5.0},
		historical: map[string]float64{"tkn": 2.0},
	}
	snapshots := &mockSnapshotStore{}
	analyzer := newTestAnalyzer(ledger, resolver, newMockPortfolioCache(), snapshots)

	portfolio, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{
		Address: testSolanaAddress,
		Chain:   types.ChainSolana,
		Window:  types.WindowYear,
	})
	require.NoError(t, err)

	assert.InDelta(t, 30.0, portfolio.TotalValue, 1e-9)
	assert.InDelta(t, 12.0, portfolio.TotalCostBasis, 1e-9)
	assert.InDelta(t, 18.0, portfolio.TotalUnrealizedPnL, 1e-9)
	require.NotNil(t, portfolio.PerformancePercent)
	assert.InDelta(t, 150.0, *portfolio.PerformancePercent, 1e-9)
	assert.Equal(t, types.TierExcellent, portfolio.Tier)
	assert.Equal(t, types.WindowYear, portfolio.SelectedWindow)
	assert.Equal(t, 2, portfolio.EventCount)
	assert.Len(t, portfolio.RecentTransactions, 2)
	assert.Equal(t, "sig2", portfolio.RecentTransactions[0].Reference, "latest first")
	assert.Len(t, portfolio.Windows, 4)
	require.Len(t, snapshots.saved, 1)

	// Each window's curve ends exactly at the portfolio value
	for _, w := range portfolio.Windows {
		require.NotEmpty(t, w.Points)
		assert.InDelta(t, 30.0, w.Points[len(w.Points)-1].Value, 1e-9)
	}
}

func TestAnalyzerService_NoHistoryStillReturnsPortfolio(t *testing.T) {
	asset := types.Asset{ID: "usdc", Symbol: "USDC", Decimals: 6}
	ledger := &mockLedger{
		snapshot: &types.BalanceSnapshot{
			Address: testSolanaAddress,
			Chain:   types.ChainSolana,
			Tokens:  []types.Balance{{Asset: asset, Quantity: 100}},
		},
	}
	resolver := &mockResolver{current: map[string]float64{"usdc": 1.0}}
	analyzer := newTestAnalyzer(ledger, resolver, newMockPortfolioCache(), nil)

	portfolio, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{
		Address: testSolanaAddress,
		Chain:   types.ChainSolana,
	})
	require.NoError(t, err, "zero history must not raise")

	assert.InDelta(t, 100.0, portfolio.TotalValue, 1e-9)
	assert.Equal(t, 0.0, portfolio.TotalCostBasis)
	assert.Nil(t, portfolio.PerformancePercent)
	assert.Equal(t, 0, portfolio.EventCount)
}

func TestAnalyzerService_InvalidAddressRejectedBeforePipeline(t *testing.T) {
	ledger := &mockLedger{balancesErr: fmt.Errorf("should never be called")}
	analyzer := newTestAnalyzer(ledger, &mockResolver{}, newMockPortfolioCache(), nil)

	tests := []struct {
		chain   types.ChainID
		address string
	}{
		{types.ChainSolana, "not-base58-0OIl"},
		{types.ChainSolana, "short"},
		{types.ChainEthereum, "0x123"},
		{types.ChainEthereum, testSolanaAddress},
	}
	for _, tt := range tests {
		_, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{Address: tt.address, Chain: tt.chain})
		require.Error(t, err, "%s on %s", tt.address, tt.chain)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestAnalyzerService_UnsupportedChain(t *testing.T) {
	analyzer := newTestAnalyzer(&mockLedger{}, &mockResolver{}, newMockPortfolioCache(), nil)

	_, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{
		Address: testEthereumAddress,
		Chain:   types.ChainID("dogecoin"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestAnalyzerService_TotalFailureWhenBalancesFail(t *testing.T) {
	ledger := &mockLedger{balancesErr: fmt.Errorf("all providers down")}
	analyzer := newTestAnalyzer(ledger, &mockResolver{}, newMockPortfolioCache(), nil)

	_, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{
		Address: testSolanaAddress,
		Chain:   types.ChainSolana,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTotalFailure))
}

func TestAnalyzerService_TotalFailureWhenHistoryFails(t *testing.T) {
	ledger := &mockLedger{
		snapshot:   &types.BalanceSnapshot{Address: testSolanaAddress, Chain: types.ChainSolana},
		historyErr: fmt.Errorf("all providers down"),
	}
	analyzer := newTestAnalyzer(ledger, &mockResolver{}, newMockPortfolioCache(), nil)

	_, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{
		Address: testSolanaAddress,
		Chain:   types.ChainSolana,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTotalFailure))
}

func TestAnalyzerService_CacheHitSkipsPipeline(t *testing.T) {
	cache := newMockPortfolioCache()
	cached := &types.Portfolio{
		AnalysisID: "cached",
		Address:    testSolanaAddress,
		Chain:      types.ChainSolana,
		TotalValue: 42.0,
	}
	require.NoError(t, cache.SavePortfolio(context.Background(), cached))

	ledger := &mockLedger{balancesErr: fmt.Errorf("should not be called")}
	analyzer := newTestAnalyzer(ledger, &mockResolver{}, cache, nil)

	portfolio, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{
		Address: testSolanaAddress,
		Chain:   types.ChainSolana,
		Window:  types.WindowThreeMonths,
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", portfolio.AnalysisID)
	assert.Equal(t, types.WindowThreeMonths, portfolio.SelectedWindow, "window choice applies to cached results too")
}

func TestAnalyzerService_ForceRefreshBypassesCache(t *testing.T) {
	cache := newMockPortfolioCache()
	require.NoError(t, cache.SavePortfolio(context.Background(), &types.Portfolio{
		AnalysisID: "stale",
		Address:    testSolanaAddress,
		Chain:      types.ChainSolana,
	}))

	asset := types.Asset{ID: "tkn", Symbol: "TKN"}
	ledger := &mockLedger{
		snapshot: &types.BalanceSnapshot{
			Address: testSolanaAddress,
			Chain:   types.ChainSolana,
			Tokens:  []types.Balance{{Asset: asset, Quantity: 1}},
		},
	}
	analyzer := newTestAnalyzer(ledger, &mockResolver{current: map[string]float64{"tkn": 10}}, cache, nil)

	portfolio, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{
		Address:      testSolanaAddress,
		Chain:        types.ChainSolana,
		ForceRefresh: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, "stale", portfolio.AnalysisID)
	assert.Equal(t, 1, cache.invalidated)
	assert.InDelta(t, 10.0, portfolio.TotalValue, 1e-9)
}

func TestAnalyzerService_UnresolvableAcquisitionGetsZeroCost(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	asset := types.Asset{ID: "tkn", Symbol: "TKN"}
	ledger := &mockLedger{
		snapshot: &types.BalanceSnapshot{
			Address: testSolanaAddress,
			Chain:   types.ChainSolana,
			Tokens:  []types.Balance{{Asset: asset, Quantity: 10}},
		},
		events: []types.TransferEvent{
			{Asset: asset, Quantity: 10, Timestamp: t0, Reference: "sig1"},
		},
	}
	// Current price resolves, historical never does
	analyzer := newTestAnalyzer(ledger, &mockResolver{current: map[string]float64{"tkn": 2}}, newMockPortfolioCache(), nil)

	portfolio, err := analyzer.AnalyzeWallet(context.Background(), &AnalyzeInput{
		Address: testSolanaAddress,
		Chain:   types.ChainSolana,
	})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, portfolio.TotalValue, 1e-9)
	assert.Equal(t, 0.0, portfolio.TotalCostBasis, "unresolvable acquisitions enter at zero cost")
	assert.Nil(t, portfolio.PerformancePercent)
}
