package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wallet-analyzer/internal/logging"
	"github.com/wallet-analyzer/internal/types"
)

// PriceSampler periodically re-resolves prices for every asset seen in
// recent analyses and appends the results to the sample store. The
// samples feed nearest-sample historical lookups, so the longer the
// service runs the better its historical answers get.
type PriceSampler struct {
	resolver Resolver
	interval time.Duration

	mu     sync.Mutex
	assets map[types.ChainID]map[string]struct{}

	ticker   *time.Ticker
	stopChan chan struct{}
	running  bool
	logger   *logging.Logger
}

// NewPriceSampler creates a new sampler
func NewPriceSampler(resolver Resolver, interval time.Duration) *PriceSampler {
	return &PriceSampler{
		resolver: resolver,
		interval: interval,
		assets:   make(map[types.ChainID]map[string]struct{}),
		stopChan: make(chan struct{}),
		logger:   logging.Named("sampler"),
	}
}

// Register adds assets to the sampling set. Called by the analyzer for
// every wallet it values.
func (s *PriceSampler) Register(chain types.ChainID, assetIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.assets[chain]
	if !ok {
		set = make(map[string]struct{})
		s.assets[chain] = set
	}
	for _, id := range assetIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
}

// Start begins the sampling loop
func (s *PriceSampler) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("price sampler is already running")
	}
	s.running = true
	s.ticker = time.NewTicker(s.interval)

	go s.run(ctx)

	s.logger.WithField("interval", s.interval.String()).Info("price sampler started")
	return nil
}

// Stop halts the sampling loop
func (s *PriceSampler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	s.ticker.Stop()
	close(s.stopChan)
	s.logger.Info("price sampler stopped")
}

func (s *PriceSampler) run(ctx context.Context) {
	for {
		select {
		case <-s.ticker.C:
			s.sampleAll(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sampleAll resolves fresh prices chain by chain. The resolver's
// write-through puts every answer in the sample store; skipCache makes
// sure the answers are fresh rather than cache echoes.
func (s *PriceSampler) sampleAll(ctx context.Context) {
	for chain, ids := range s.snapshotAssets() {
		if len(ids) == 0 {
			continue
		}
		resolved := s.resolver.ResolveCurrent(ctx, chain, ids, true)
		s.logger.WithFields(map[string]interface{}{
			"chain":    string(chain),
			"tracked":  len(ids),
			"resolved": len(resolved),
		}).Debug("price sampling pass complete")
	}
}

func (s *PriceSampler) snapshotAssets() map[types.ChainID][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[types.ChainID][]string, len(s.assets))
	for chain, set := range s.assets {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		out[chain] = ids
	}
	return out
}
