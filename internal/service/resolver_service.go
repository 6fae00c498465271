package service

import (
	"context"
	"time"

	"github.com/wallet-analyzer/internal/adapter"
	"github.com/wallet-analyzer/internal/circuitbreaker"
	"github.com/wallet-analyzer/internal/config"
	"github.com/wallet-analyzer/internal/errors"
	"github.com/wallet-analyzer/internal/logging"
	"github.com/wallet-analyzer/internal/ratelimit"
	"github.com/wallet-analyzer/internal/types"
)

// QuoteCache is the caching surface the resolver needs
type QuoteCache interface {
	GetQuote(ctx context.Context, chain types.ChainID, assetID string) (*types.PriceQuote, bool, error)
	SaveQuote(ctx context.Context, chain types.ChainID, quote *types.PriceQuote) error
	GetHistoricalQuote(ctx context.Context, chain types.ChainID, assetID string, at time.Time) (float64, bool, error)
	SaveHistoricalQuote(ctx context.Context, chain types.ChainID, assetID string, at time.Time, price float64) error
}

// SampleStore is the persistence surface for price samples
type SampleStore interface {
	InsertQuotes(ctx context.Context, chain types.ChainID, quotes []*types.PriceQuote) error
	NearestSample(ctx context.Context, chain types.ChainID, assetID string, at time.Time, window time.Duration) (float64, bool, error)
	LatestSample(ctx context.Context, chain types.ChainID, assetID string) (float64, time.Time, bool, error)
}

// PriceResolver resolves asset prices by walking a prioritized list of
// sources. The first strictly positive answer for an asset wins; what
// no source can price falls back to the latest stored sample and then
// to the seed table. Assets nothing can answer for are simply absent
// from the result, never zero.
type PriceResolver struct {
	sources  []adapter.PriceSource
	cache    QuoteCache
	history  SampleStore
	limiter  *ratelimit.SourceLimiter
	breakers *circuitbreaker.CircuitBreakerManager
	cfg      config.ResolverConfig
	logger   *logging.Logger
}

// NewPriceResolver creates a resolver over sources in priority order
func NewPriceResolver(
	sources []adapter.PriceSource,
	cache QuoteCache,
	history SampleStore,
	limiter *ratelimit.SourceLimiter,
	breakers *circuitbreaker.CircuitBreakerManager,
	cfg config.ResolverConfig,
) *PriceResolver {
	return &PriceResolver{
		sources:  sources,
		cache:    cache,
		history:  history,
		limiter:  limiter,
		breakers: breakers,
		cfg:      cfg,
		logger:   logging.Named("resolver"),
	}
}

// ResolveCurrent resolves current prices for a set of assets. With
// skipCache the sources are consulted even for assets the cache could
// answer; resolved quotes are always written back.
func (r *PriceResolver) ResolveCurrent(ctx context.Context, chain types.ChainID, assetIDs []string, skipCache bool) map[string]*types.PriceQuote {
	resolved := make(map[string]*types.PriceQuote, len(assetIDs))

	remaining := make([]string, 0, len(assetIDs))
	seen := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if !skipCache {
			if quote, found, err := r.cache.GetQuote(ctx, chain, id); err == nil && found {
				resolved[id] = quote
				continue
			}
		}
		remaining = append(remaining, id)
	}

	var fresh []*types.PriceQuote
	for _, source := range r.sources {
		if len(remaining) == 0 {
			break
		}
		answered := r.querySource(ctx, source, remaining)

		next := remaining[:0]
		for _, id := range remaining {
			sq, ok := answered[id]
			if !ok || sq.Price <= 0 {
				next = append(next, id)
				continue
			}
			quote := &types.PriceQuote{
				AssetID:    id,
				Price:      sq.Price,
				Change24h:  sq.Change24h,
				Source:     source.Name(),
				ResolvedAt: time.Now().UTC(),
			}
			resolved[id] = quote
			fresh = append(fresh, quote)
			if err := r.cache.SaveQuote(ctx, chain, quote); err != nil {
				r.logger.WithError(err).WithField("assetId", id).Warn("failed to cache quote")
			}
		}
		remaining = next
	}

	// Last resort: the most recent stored sample, clearly attributed
	for _, id := range remaining {
		price, sampledAt, found, err := r.history.LatestSample(ctx, chain, id)
		if err != nil || !found || price <= 0 {
			continue
		}
		resolved[id] = &types.PriceQuote{
			AssetID:    id,
			Price:      price,
			Source:     "sample",
			ResolvedAt: sampledAt,
		}
	}

	// Seed table: well-known liquid assets keep a default quote when
	// neither sources nor stored samples could answer
	if seeds := r.cfg.SeedPrices[string(chain)]; len(seeds) > 0 {
		for _, id := range remaining {
			if _, ok := resolved[id]; ok {
				continue
			}
			price, ok := seeds[id]
			if !ok || price <= 0 {
				continue
			}
			resolved[id] = &types.PriceQuote{
				AssetID:    id,
				Price:      price,
				Source:     "seed",
				ResolvedAt: time.Now().UTC(),
			}
		}
	}

	if len(fresh) > 0 {
		if err := r.history.InsertQuotes(ctx, chain, fresh); err != nil {
			r.logger.WithError(err).Warn("failed to record price samples")
		}
	}

	return resolved
}

// querySource asks one source for as many of the wanted ids as it can
// answer, chunked to its batch size. A rate-limit response stops the
// source immediately for the whole batch; remaining ids fall through to
// the next source.
func (r *PriceResolver) querySource(ctx context.Context, source adapter.PriceSource, ids []string) map[string]adapter.SourceQuote {
	answered := make(map[string]adapter.SourceQuote)
	breaker := r.breakers.GetOrCreate(source.Name(), circuitbreaker.DefaultConfig(source.Name()))

	chunkSize := source.MaxBatchSize()
	if chunkSize < 1 {
		chunkSize = 1
	}

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		if start > 0 {
			select {
			case <-time.After(r.cfg.InterChunkDelay):
			case <-ctx.Done():
				return answered
			}
		}

		if err := r.limiter.Wait(ctx, source.Name()); err != nil {
			return answered
		}

		err := breaker.Execute(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
			defer cancel()

			quotes, err := source.GetCurrentPrices(callCtx, chunk)
			if err != nil {
				return err
			}
			for id, q := range quotes {
				answered[id] = q
			}
			return nil
		})
		if err != nil {
			if errors.IsRateLimited(err) {
				r.logger.WithField("source", source.Name()).Warn("source rate limited, stopping for this batch")
				return answered
			}
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"source": source.Name(),
				"assets": len(chunk),
			}).Warn("price source call failed")
			return answered
		}
	}

	return answered
}

// ResolveHistorical resolves the price of one asset at a past time.
// Resolution order: cached day bucket, nearest stored sample within the
// tolerance window, then sources with history support. When all of
// those fail the current price stands in; the second return is false
// only when even that fails.
func (r *PriceResolver) ResolveHistorical(ctx context.Context, chain types.ChainID, assetID string, at time.Time) (float64, bool) {
	if price, found, err := r.cache.GetHistoricalQuote(ctx, chain, assetID, at); err == nil && found && price > 0 {
		return price, true
	}

	if price, found, err := r.history.NearestSample(ctx, chain, assetID, at, r.cfg.HistoricalWindow); err == nil && found && price > 0 {
		r.saveHistorical(ctx, chain, assetID, at, price)
		return price, true
	}

	for _, source := range r.sources {
		if err := r.limiter.Wait(ctx, source.Name()); err != nil {
			break
		}
		breaker := r.breakers.GetOrCreate(source.Name(), circuitbreaker.DefaultConfig(source.Name()))

		var price float64
		err := breaker.Execute(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
			defer cancel()

			p, err := source.GetHistoricalPrice(callCtx, assetID, at)
			if err != nil {
				return err
			}
			price = p
			return nil
		})
		if err == nil && price > 0 {
			r.saveHistorical(ctx, chain, assetID, at, price)
			return price, true
		}
		if errors.IsRateLimited(err) {
			// Upstream told us to back off; stop the walk and degrade
			break
		}
	}

	// Degrade to the current price rather than losing the event
	current := r.ResolveCurrent(ctx, chain, []string{assetID}, false)
	if quote, ok := current[assetID]; ok && quote.Price > 0 {
		return quote.Price, true
	}

	return 0, false
}

func (r *PriceResolver) saveHistorical(ctx context.Context, chain types.ChainID, assetID string, at time.Time, price float64) {
	if err := r.cache.SaveHistoricalQuote(ctx, chain, assetID, at, price); err != nil {
		r.logger.WithError(err).WithField("assetId", assetID).Warn("failed to cache historical quote")
	}
}

// ChainResolver routes price resolution to a per-chain resolver. Some
// sources only quote one platform, so each chain carries its own
// prioritized source list.
type ChainResolver struct {
	resolvers map[types.ChainID]*PriceResolver
}

// NewChainResolver creates a router over per-chain resolvers
func NewChainResolver(resolvers map[types.ChainID]*PriceResolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers}
}

// ResolveCurrent delegates to the resolver for chain. An unknown chain
// resolves nothing rather than failing; the analyzer validates chains
// before any pricing happens.
func (c *ChainResolver) ResolveCurrent(ctx context.Context, chain types.ChainID, assetIDs []string, skipCache bool) map[string]*types.PriceQuote {
	resolver, ok := c.resolvers[chain]
	if !ok {
		return map[string]*types.PriceQuote{}
	}
	return resolver.ResolveCurrent(ctx, chain, assetIDs, skipCache)
}

// ResolveHistorical delegates to the resolver for chain
func (c *ChainResolver) ResolveHistorical(ctx context.Context, chain types.ChainID, assetID string, at time.Time) (float64, bool) {
	resolver, ok := c.resolvers[chain]
	if !ok {
		return 0, false
	}
	return resolver.ResolveHistorical(ctx, chain, assetID, at)
}
