package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wallet-analyzer/internal/types"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyPrice is for current per-asset price quotes
	CacheKeyPrice CacheKeyType = "price"
	// CacheKeyHistPrice is for historical per-asset price quotes
	CacheKeyHistPrice CacheKeyType = "histprice"
	// CacheKeyPortfolio is for composed wallet portfolios
	CacheKeyPortfolio CacheKeyType = "portfolio"
)

// PriceCache layers two tiers over Redis: per-asset price quotes with a
// short TTL, and composed per-wallet portfolios with a slightly longer
// one. Historical quotes get no expiry since the past does not change.
type PriceCache struct {
	redis        *RedisCache
	priceTTL     time.Duration
	portfolioTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a point-in-time view of cache effectiveness
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// NewPriceCache creates a new price cache over an established Redis
// connection
func NewPriceCache(redis *RedisCache, priceTTL, portfolioTTL time.Duration) *PriceCache {
	return &PriceCache{
		redis:        redis,
		priceTTL:     priceTTL,
		portfolioTTL: portfolioTTL,
	}
}

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *PriceCache) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	// Normalize all parameters to lowercase for consistency
	normalizedParams := make([]string, len(params))
	for i, param := range params {
		normalizedParams[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalizedParams...)
	return strings.Join(parts, ":")
}

// GeneratePriceKey generates a cache key for a current price quote
// Format: price:<chain>:<asset-id>
func (c *PriceCache) GeneratePriceKey(chain types.ChainID, assetID string) string {
	return c.GenerateCacheKey(CacheKeyPrice, string(chain), assetID)
}

// GenerateHistPriceKey generates a cache key for a historical quote,
// bucketed by day
// Format: histprice:<chain>:<asset-id>:<yyyy-mm-dd>
func (c *PriceCache) GenerateHistPriceKey(chain types.ChainID, assetID string, at time.Time) string {
	return c.GenerateCacheKey(CacheKeyHistPrice, string(chain), assetID, at.UTC().Format("2006-01-02"))
}

// GeneratePortfolioKey generates a cache key for a composed portfolio
// Format: portfolio:<chain>:<address>
func (c *PriceCache) GeneratePortfolioKey(chain types.ChainID, address string) string {
	return c.GenerateCacheKey(CacheKeyPortfolio, string(chain), address)
}

// GetQuote retrieves a cached current price quote
func (c *PriceCache) GetQuote(ctx context.Context, chain types.ChainID, assetID string) (*types.PriceQuote, bool, error) {
	var quote types.PriceQuote
	found, err := c.get(ctx, c.GeneratePriceKey(chain, assetID), &quote)
	if err != nil || !found {
		return nil, false, err
	}
	return &quote, true, nil
}

// SaveQuote stores a current price quote with the price TTL
func (c *PriceCache) SaveQuote(ctx context.Context, chain types.ChainID, quote *types.PriceQuote) error {
	return c.set(ctx, c.GeneratePriceKey(chain, quote.AssetID), quote, c.priceTTL)
}

// GetHistoricalQuote retrieves a cached historical quote for the day of at
func (c *PriceCache) GetHistoricalQuote(ctx context.Context, chain types.ChainID, assetID string, at time.Time) (float64, bool, error) {
	var price float64
	found, err := c.get(ctx, c.GenerateHistPriceKey(chain, assetID, at), &price)
	if err != nil || !found {
		return 0, false, err
	}
	return price, true, nil
}

// SaveHistoricalQuote stores a historical quote without expiry
func (c *PriceCache) SaveHistoricalQuote(ctx context.Context, chain types.ChainID, assetID string, at time.Time, price float64) error {
	return c.set(ctx, c.GenerateHistPriceKey(chain, assetID, at), price, 0)
}

// GetPortfolio retrieves a cached composed portfolio
func (c *PriceCache) GetPortfolio(ctx context.Context, chain types.ChainID, address string) (*types.Portfolio, bool, error) {
	var portfolio types.Portfolio
	found, err := c.get(ctx, c.GeneratePortfolioKey(chain, address), &portfolio)
	if err != nil || !found {
		return nil, false, err
	}
	return &portfolio, true, nil
}

// SavePortfolio stores a composed portfolio with the portfolio TTL
func (c *PriceCache) SavePortfolio(ctx context.Context, portfolio *types.Portfolio) error {
	return c.set(ctx, c.GeneratePortfolioKey(portfolio.Chain, portfolio.Address), portfolio, c.portfolioTTL)
}

// InvalidatePortfolio removes the cached portfolio for one wallet.
// Used on forced refresh so a re-analysis never reads its own stale
// output.
func (c *PriceCache) InvalidatePortfolio(ctx context.Context, chain types.ChainID, address string) error {
	return c.redis.Del(ctx, c.GeneratePortfolioKey(chain, address))
}

// InvalidateChainPrices removes all cached current quotes for a chain
func (c *PriceCache) InvalidateChainPrices(ctx context.Context, chain types.ChainID) error {
	pattern := fmt.Sprintf("%s:%s:*", CacheKeyPrice, strings.ToLower(string(chain)))
	keys, err := c.redis.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// Stats returns hit/miss counters since process start
func (c *PriceCache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := CacheStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// Ping checks that the backing Redis is reachable
func (c *PriceCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx)
}

func (c *PriceCache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

func (c *PriceCache) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		// Key not found is not an error, just a cache miss
		if err.Error() == "redis: nil" {
			c.misses.Add(1)
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	c.hits.Add(1)
	return true, nil
}
