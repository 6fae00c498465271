// Package adapter implements clients for upstream ledger and price APIs.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wallet-analyzer/internal/errors"
	"github.com/wallet-analyzer/internal/logging"
	"github.com/wallet-analyzer/internal/retry"
	"github.com/wallet-analyzer/internal/types"
)

// ledgerRetryConfig keeps per-provider retries short so failover to the
// next provider happens within the request deadline
var ledgerRetryConfig = &retry.Config{
	MaxAttempts:  2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// LedgerProvider supplies normalized balances and transfer history for
// one chain. Implementations wrap a specific indexing API; the analyzer
// is written against this single shape.
type LedgerProvider interface {
	// Name returns the provider identifier for logging and provenance
	Name() string

	// Chain returns the chain this provider serves
	Chain() types.ChainID

	// GetBalances returns the current holdings of a wallet
	GetBalances(ctx context.Context, address string) (*types.BalanceSnapshot, error)

	// GetTransferHistory returns up to limit transfer events for a
	// wallet. Order is not guaranteed; the caller sorts.
	GetTransferHistory(ctx context.Context, address string, limit int) ([]types.TransferEvent, error)

	// HealthCheck verifies the upstream is reachable
	HealthCheck(ctx context.Context) error
}

// providerHealth tracks rolling health for one provider inside a
// failover group
type providerHealth struct {
	totalRequests    int64
	failedRequests   int64
	consecutiveFails int
	lastSuccess      time.Time
	lastFailure      time.Time
}

// FailoverLedger tries an ordered list of providers for one chain,
// preferring the first healthy one. Only when every provider fails does
// a call surface an error.
type FailoverLedger struct {
	chain     types.ChainID
	providers []LedgerProvider

	mu     sync.Mutex
	health []providerHealth

	maxConsecutiveFails int
	logger              *logging.Logger
}

// NewFailoverLedger creates a failover group over the given providers.
// Provider order is the preference order.
func NewFailoverLedger(chain types.ChainID, providers ...LedgerProvider) (*FailoverLedger, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one ledger provider is required for chain %s", chain)
	}

	return &FailoverLedger{
		chain:               chain,
		providers:           providers,
		health:              make([]providerHealth, len(providers)),
		maxConsecutiveFails: 5,
		logger:              logging.Named("ledger").WithField("chain", string(chain)),
	}, nil
}

// Chain returns the chain this group serves
func (f *FailoverLedger) Chain() types.ChainID {
	return f.chain
}

// GetBalances fetches balances from the first provider that answers
func (f *FailoverLedger) GetBalances(ctx context.Context, address string) (*types.BalanceSnapshot, error) {
	var snapshot *types.BalanceSnapshot
	err := f.each(ctx, "balances", func(ctx context.Context, p LedgerProvider) error {
		s, err := p.GetBalances(ctx, address)
		if err != nil {
			return err
		}
		snapshot = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// GetTransferHistory fetches transfer events from the first provider
// that answers
func (f *FailoverLedger) GetTransferHistory(ctx context.Context, address string, limit int) ([]types.TransferEvent, error) {
	var events []types.TransferEvent
	err := f.each(ctx, "history", func(ctx context.Context, p LedgerProvider) error {
		evts, err := p.GetTransferHistory(ctx, address, limit)
		if err != nil {
			return err
		}
		events = evts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// each runs fn against providers in preference order until one succeeds.
// Unhealthy providers are skipped unless every provider is unhealthy.
func (f *FailoverLedger) each(ctx context.Context, operation string, fn func(context.Context, LedgerProvider) error) error {
	var lastErr error
	attempted := 0

	for pass := 0; pass < 2; pass++ {
		skipUnhealthy := pass == 0

		for i, provider := range f.providers {
			if skipUnhealthy && !f.isHealthy(i) {
				continue
			}
			attempted++

			result := retry.WithExponentialBackoff(ctx, ledgerRetryConfig, func(ctx context.Context, attempt int) error {
				return fn(ctx, provider)
			})
			if result.Success {
				f.recordSuccess(i)
				return nil
			}

			lastErr = result.LastError
			f.recordFailure(i)
			f.logger.WithError(lastErr).WithFields(map[string]interface{}{
				"provider":  provider.Name(),
				"operation": operation,
			}).Warn("ledger provider call failed, trying next")

			if ctx.Err() != nil {
				return errors.NewSourceTimeoutError(provider.Name())
			}
		}

		// Second pass only makes sense if the first one skipped someone
		if attempted == len(f.providers) {
			break
		}
	}

	return errors.NewSourceError(fmt.Sprintf("%s ledger", f.chain), lastErr)
}

func (f *FailoverLedger) isHealthy(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health[i].consecutiveFails < f.maxConsecutiveFails
}

func (f *FailoverLedger) recordSuccess(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &f.health[i]
	h.totalRequests++
	h.consecutiveFails = 0
	h.lastSuccess = time.Now()
}

func (f *FailoverLedger) recordFailure(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &f.health[i]
	h.totalRequests++
	h.failedRequests++
	h.consecutiveFails++
	h.lastFailure = time.Now()
}
