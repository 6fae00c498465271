package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-analyzer/internal/adapter"
	"github.com/wallet-analyzer/internal/circuitbreaker"
	"github.com/wallet-analyzer/internal/config"
	"github.com/wallet-analyzer/internal/errors"
	"github.com/wallet-analyzer/internal/ratelimit"
	"github.com/wallet-analyzer/internal/types"
)

// mockSource is a scripted price source
type mockSource struct {
	name       string
	batchSize  int
	quotes     map[string]adapter.SourceQuote
	historical map[string]float64
	err        error
	calls      int
	histCalls  int
}

func (m *mockSource) Name() string      { return m.name }
func (m *mockSource) MaxBatchSize() int { return m.batchSize }

func (m *mockSource) GetCurrentPrices(ctx context.Context, ids []string) (map[string]adapter.SourceQuote, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]adapter.SourceQuote)
	for _, id := range ids {
		if q, ok := m.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (m *mockSource) GetHistoricalPrice(ctx context.Context, id string, at time.Time) (float64, error) {
	m.histCalls++
	if m.err != nil {
		return 0, m.err
	}
	if p, ok := m.historical[id]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("no history for %s", id)
}

// mockQuoteCache is an in-memory QuoteCache
type mockQuoteCache struct {
	quotes     map[string]*types.PriceQuote
	historical map[string]float64
	saves      int
}

func newMockQuoteCache() *mockQuoteCache {
	return &mockQuoteCache{
		quotes:     make(map[string]*types.PriceQuote),
		historical: make(map[string]float64),
	}
}

func (m *mockQuoteCache) GetQuote(ctx context.Context, chain types.ChainID, assetID string) (*types.PriceQuote, bool, error) {
	q, ok := m.quotes[assetID]
	return q, ok, nil
}

func (m *mockQuoteCache) SaveQuote(ctx context.Context, chain types.ChainID, quote *types.PriceQuote) error {
	m.saves++
	m.quotes[quote.AssetID] = quote
	return nil
}

func (m *mockQuoteCache) GetHistoricalQuote(ctx context.Context, chain types.ChainID, assetID string, at time.Time) (float64, bool, error) {
	p, ok := m.historical[assetID]
	return p, ok, nil
}

func (m *mockQuoteCache) SaveHistoricalQuote(ctx context.Context, chain types.ChainID, assetID string, at time.Time, price float64) error {
	m.historical[assetID] = price
	return nil
}

// mockSampleStore is an in-memory SampleStore
type mockSampleStore struct {
	nearest  map[string]float64
	latest   map[string]float64
	inserted int
}

func newMockSampleStore() *mockSampleStore {
	return &mockSampleStore{
		nearest: make(map[string]float64),
		latest:  make(map[string]float64),
	}
}

func (m *mockSampleStore) InsertQuotes(ctx context.Context, chain types.ChainID, quotes []*types.PriceQuote) error {
	m.inserted += len(quotes)
	return nil
}

func (m *mockSampleStore) NearestSample(ctx context.Context, chain types.ChainID, assetID string, at time.Time, window time.Duration) (float64, bool, error) {
	p, ok := m.nearest[assetID]
	return p, ok, nil
}

func (m *mockSampleStore) LatestSample(ctx context.Context, chain types.ChainID, assetID string) (float64, time.Time, bool, error) {
	p, ok := m.latest[assetID]
	return p, time.Now().UTC(), ok, nil
}

func newTestResolver(cache *mockQuoteCache, store *mockSampleStore, sources ...adapter.PriceSource) *PriceResolver {
	cfg := config.ResolverConfig{
		SourceTimeout:    time.Second,
		InterChunkDelay:  time.Millisecond,
		MaxConcurrent:    2,
		HistoricalWindow: 7 * 24 * time.Hour,
	}
	return NewPriceResolver(
		sources,
		cache,
		store,
		ratelimit.NewSourceLimiter(1000, 1000),
		circuitbreaker.NewCircuitBreakerManager(),
		cfg,
	)
}

func TestPriceResolver_FallbackOrdering(t *testing.T) {
	// Source 1 errors out; source 2 answers. The winning quote carries
	// source 2's name and source 1 is not retried.
	s1 := &mockSource{name: "primary", batchSize: 100, err: fmt.Errorf("boom")}
	s2 := &mockSource{name: "secondary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"tkn": {Price: 2.5},
	}}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1, s2)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"tkn"}, false)

	require.Contains(t, resolved, "tkn")
	assert.Equal(t, "secondary", resolved["tkn"].Source)
	assert.Equal(t, 2.5, resolved["tkn"].Price)
	assert.Equal(t, 1, s1.calls)
	assert.Equal(t, 1, s2.calls)
}

func TestPriceResolver_FirstPositivePriceWins(t *testing.T) {
	s1 := &mockSource{name: "primary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"tkn": {Price: 1.0},
	}}
	s2 := &mockSource{name: "secondary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"tkn": {Price: 99.0},
	}}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1, s2)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"tkn"}, false)

	require.Contains(t, resolved, "tkn")
	assert.Equal(t, "primary", resolved["tkn"].Source)
	assert.Equal(t, 0, s2.calls, "later sources are not consulted once an asset is priced")
}

func TestPriceResolver_ZeroPriceFallsThrough(t *testing.T) {
	s1 := &mockSource{name: "primary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"tkn": {Price: 0},
	}}
	s2 := &mockSource{name: "secondary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"tkn": {Price: 3.0},
	}}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1, s2)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"tkn"}, false)

	require.Contains(t, resolved, "tkn")
	assert.Equal(t, "secondary", resolved["tkn"].Source)
}

func TestPriceResolver_RateLimitStopsSourceForBatch(t *testing.T) {
	// Source 1 rate-limits; the whole batch must come from source 2
	// without retrying source 1.
	s1 := &mockSource{name: "primary", batchSize: 100, err: errors.NewSourceRateLimitError("primary")}
	s2 := &mockSource{name: "secondary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"a": {Price: 1}, "b": {Price: 2},
	}}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1, s2)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"a", "b"}, false)

	assert.Equal(t, 1, s1.calls, "rate-limited source must not be called again for this batch")
	assert.Len(t, resolved, 2)
	assert.Equal(t, "secondary", resolved["a"].Source)
}

func TestPriceResolver_BatchChunking(t *testing.T) {
	s1 := &mockSource{name: "primary", batchSize: 2, quotes: map[string]adapter.SourceQuote{
		"a": {Price: 1}, "b": {Price: 2}, "c": {Price: 3}, "d": {Price: 4}, "e": {Price: 5},
	}}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"a", "b", "c", "d", "e"}, false)

	assert.Len(t, resolved, 5)
	assert.Equal(t, 3, s1.calls, "five ids at batch size two means three chunks")
}

func TestPriceResolver_CacheHitSkipsSources(t *testing.T) {
	cache := newMockQuoteCache()
	cache.quotes["tkn"] = &types.PriceQuote{AssetID: "tkn", Price: 7.0, Source: "jupiter"}
	s1 := &mockSource{name: "primary", batchSize: 100}
	resolver := newTestResolver(cache, newMockSampleStore(), s1)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"tkn"}, false)

	require.Contains(t, resolved, "tkn")
	assert.Equal(t, 7.0, resolved["tkn"].Price)
	assert.Equal(t, 0, s1.calls)
}

func TestPriceResolver_SkipCacheForcesResolution(t *testing.T) {
	cache := newMockQuoteCache()
	cache.quotes["tkn"] = &types.PriceQuote{AssetID: "tkn", Price: 7.0, Source: "jupiter"}
	s1 := &mockSource{name: "primary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"tkn": {Price: 8.0},
	}}
	resolver := newTestResolver(cache, newMockSampleStore(), s1)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"tkn"}, true)

	require.Contains(t, resolved, "tkn")
	assert.Equal(t, 8.0, resolved["tkn"].Price)
	assert.Equal(t, 1, s1.calls)
	assert.Equal(t, 8.0, cache.quotes["tkn"].Price, "forced resolution must replace the cached value")
}

func TestPriceResolver_WriteThrough(t *testing.T) {
	cache := newMockQuoteCache()
	store := newMockSampleStore()
	s1 := &mockSource{name: "primary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"tkn": {Price: 5.0},
	}}
	resolver := newTestResolver(cache, store, s1)

	resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"tkn"}, false)

	assert.Equal(t, 1, cache.saves)
	assert.Equal(t, 1, store.inserted, "fresh quotes also land in the sample store")
}

func TestPriceResolver_AllSourcesFailAssetAbsent(t *testing.T) {
	s1 := &mockSource{name: "primary", batchSize: 100, err: fmt.Errorf("down")}
	s2 := &mockSource{name: "secondary", batchSize: 100, err: fmt.Errorf("down")}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1, s2)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"tkn"}, false)

	assert.NotContains(t, resolved, "tkn", "unresolvable assets are absent, never zero-priced")
}

func TestPriceResolver_StoredSampleAsLastResort(t *testing.T) {
	store := newMockSampleStore()
	store.latest["tkn"] = 4.2
	s1 := &mockSource{name: "primary", batchSize: 100, err: fmt.Errorf("down")}
	resolver := newTestResolver(newMockQuoteCache(), store, s1)

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{"tkn"}, false)

	require.Contains(t, resolved, "tkn")
	assert.Equal(t, 4.2, resolved["tkn"].Price)
	assert.Equal(t, "sample", resolved["tkn"].Source)
}

const wsolMint = "So11111111111111111111111111111111111111112"

func withSeedPrices(resolver *PriceResolver) *PriceResolver {
	resolver.cfg.SeedPrices = map[string]map[string]float64{
		"solana": {wsolMint: 138.25},
	}
	return resolver
}

func TestPriceResolver_SeedPriceWhenAllElseFails(t *testing.T) {
	// Every source is down and the sample store is empty, but wSOL is
	// on the seed allowlist and still gets a quote.
	s1 := &mockSource{name: "primary", batchSize: 100, err: fmt.Errorf("down")}
	resolver := withSeedPrices(newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1))

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{wsolMint, "tkn"}, false)

	require.Contains(t, resolved, wsolMint)
	assert.Equal(t, 138.25, resolved[wsolMint].Price)
	assert.Equal(t, "seed", resolved[wsolMint].Source)
	assert.NotContains(t, resolved, "tkn", "assets off the allowlist stay absent")
}

func TestPriceResolver_SeedNotConsultedBeforeSources(t *testing.T) {
	s1 := &mockSource{name: "primary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		wsolMint: {Price: 150.0},
	}}
	resolver := withSeedPrices(newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1))

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{wsolMint}, false)

	require.Contains(t, resolved, wsolMint)
	assert.Equal(t, "primary", resolved[wsolMint].Source)
	assert.Equal(t, 150.0, resolved[wsolMint].Price)
}

func TestPriceResolver_StoredSampleBeatsSeedPrice(t *testing.T) {
	store := newMockSampleStore()
	store.latest[wsolMint] = 141.0
	s1 := &mockSource{name: "primary", batchSize: 100, err: fmt.Errorf("down")}
	resolver := withSeedPrices(newTestResolver(newMockQuoteCache(), store, s1))

	resolved := resolver.ResolveCurrent(context.Background(), types.ChainSolana, []string{wsolMint}, false)

	require.Contains(t, resolved, wsolMint)
	assert.Equal(t, 141.0, resolved[wsolMint].Price)
	assert.Equal(t, "sample", resolved[wsolMint].Source)
}

func TestPriceResolver_HistoricalNearestSample(t *testing.T) {
	store := newMockSampleStore()
	store.nearest["tkn"] = 1.5
	s1 := &mockSource{name: "primary", batchSize: 100}
	resolver := newTestResolver(newMockQuoteCache(), store, s1)

	price, ok := resolver.ResolveHistorical(context.Background(), types.ChainSolana, "tkn", time.Now().Add(-48*time.Hour))

	require.True(t, ok)
	assert.Equal(t, 1.5, price)
	assert.Equal(t, 0, s1.histCalls)
}

func TestPriceResolver_HistoricalFallsBackToCurrent(t *testing.T) {
	// No stored sample and no source history: the current price stands in.
	s1 := &mockSource{name: "primary", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"tkn": {Price: 9.0},
	}}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1)

	price, ok := resolver.ResolveHistorical(context.Background(), types.ChainSolana, "tkn", time.Now().Add(-48*time.Hour))

	require.True(t, ok)
	assert.Equal(t, 9.0, price)
}

func TestPriceResolver_HistoricalAllFail(t *testing.T) {
	s1 := &mockSource{name: "primary", batchSize: 100, err: fmt.Errorf("down")}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1)

	_, ok := resolver.ResolveHistorical(context.Background(), types.ChainSolana, "tkn", time.Now().Add(-48*time.Hour))
	assert.False(t, ok)
}

func TestPriceResolver_HistoricalRateLimitStopsWalk(t *testing.T) {
	// A 429 from the first source ends the historical walk; later
	// sources are not asked for history and the current price stands in.
	s1 := &mockSource{name: "primary", batchSize: 100, err: errors.NewSourceRateLimitError("primary")}
	s2 := &mockSource{name: "secondary", batchSize: 100,
		historical: map[string]float64{"tkn": 5.0},
		quotes:     map[string]adapter.SourceQuote{"tkn": {Price: 7.0}},
	}
	resolver := newTestResolver(newMockQuoteCache(), newMockSampleStore(), s1, s2)

	price, ok := resolver.ResolveHistorical(context.Background(), types.ChainSolana, "tkn", time.Now().Add(-48*time.Hour))

	require.True(t, ok)
	assert.Equal(t, 7.0, price)
	assert.Equal(t, 0, s2.histCalls, "the walk stops at the rate-limited source")
}

func TestChainResolver_RoutesByChain(t *testing.T) {
	solSource := &mockSource{name: "sol-source", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"mint": {Price: 3.0},
	}}
	ethSource := &mockSource{name: "eth-source", batchSize: 100, quotes: map[string]adapter.SourceQuote{
		"0xabc": {Price: 7.0},
	}}
	router := NewChainResolver(map[types.ChainID]*PriceResolver{
		types.ChainSolana:   newTestResolver(newMockQuoteCache(), newMockSampleStore(), solSource),
		types.ChainEthereum: newTestResolver(newMockQuoteCache(), newMockSampleStore(), ethSource),
	})

	sol := router.ResolveCurrent(context.Background(), types.ChainSolana, []string{"mint"}, false)
	require.Contains(t, sol, "mint")
	assert.Equal(t, 3.0, sol["mint"].Price)
	assert.Equal(t, 0, ethSource.calls)

	eth := router.ResolveCurrent(context.Background(), types.ChainEthereum, []string{"0xabc"}, false)
	require.Contains(t, eth, "0xabc")
	assert.Equal(t, 7.0, eth["0xabc"].Price)
}

func TestChainResolver_UnknownChainResolvesNothing(t *testing.T) {
	router := NewChainResolver(map[types.ChainID]*PriceResolver{})

	quotes := router.ResolveCurrent(context.Background(), types.ChainID("dogecoin"), []string{"x"}, false)
	assert.Empty(t, quotes)

	_, ok := router.ResolveHistorical(context.Background(), types.ChainID("dogecoin"), "x", time.Now())
	assert.False(t, ok)
}
