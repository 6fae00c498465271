package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/wallet-analyzer/internal/types"
)

// PriceHistoryRepository persists resolved price quotes as append-only
// samples in ClickHouse. The table is the last-resort source for
// historical lookups: when no upstream can answer, the nearest stored
// sample within the tolerance window is used instead.
type PriceHistoryRepository struct {
	db *ClickHouseDB
}

// NewPriceHistoryRepository creates a new price history repository
func NewPriceHistoryRepository(db *ClickHouseDB) *PriceHistoryRepository {
	return &PriceHistoryRepository{
		db: db,
	}
}

// InsertQuotes appends resolved quotes as samples in a single batch
func (r *PriceHistoryRepository) InsertQuotes(ctx context.Context, chain types.ChainID, quotes []*types.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO price_samples (chain, asset_id, symbol, price, source, sampled_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, quote := range quotes {
		sampledAt := quote.ResolvedAt
		if sampledAt.IsZero() {
			sampledAt = time.Now().UTC()
		}
		if err := batch.Append(
			string(chain),
			quote.AssetID,
			quote.Symbol,
			quote.Price,
			quote.Source,
			sampledAt,
		); err != nil {
			return fmt.Errorf("failed to append sample: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert price samples: %w", err)
	}

	return nil
}

// NearestSample returns the stored price closest in time to at, looking
// at most window in either direction. The second return reports whether
// any sample was found.
func (r *PriceHistoryRepository) NearestSample(ctx context.Context, chain types.ChainID, assetID string, at time.Time, window time.Duration) (float64, bool, error) {
	query := `
		SELECT price
		FROM price_samples
		WHERE chain = ? AND asset_id = ? AND sampled_at BETWEEN ? AND ?
		ORDER BY abs(toUnixTimestamp(sampled_at) - toUnixTimestamp(?)) ASC
		LIMIT 1
	`

	rows, err := r.db.Conn().Query(ctx, query,
		string(chain),
		assetID,
		at.Add(-window),
		at.Add(window),
		at,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query price samples: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}

	var price float64
	if err := rows.Scan(&price); err != nil {
		return 0, false, fmt.Errorf("failed to scan price sample: %w", err)
	}

	return price, true, nil
}

// LatestSample returns the most recent stored price for an asset
func (r *PriceHistoryRepository) LatestSample(ctx context.Context, chain types.ChainID, assetID string) (float64, time.Time, bool, error) {
	query := `
		SELECT price, sampled_at
		FROM price_samples
		WHERE chain = ? AND asset_id = ?
		ORDER BY sampled_at DESC
		LIMIT 1
	`

	rows, err := r.db.Conn().Query(ctx, query, string(chain), assetID)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to query price samples: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, time.Time{}, false, rows.Err()
	}

	var price float64
	var sampledAt time.Time
	if err := rows.Scan(&price, &sampledAt); err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to scan price sample: %w", err)
	}

	return price, sampledAt, true, nil
}

// SampleCount returns the number of stored samples for a chain.
// Used by the health endpoint.
func (r *PriceHistoryRepository) SampleCount(ctx context.Context, chain types.ChainID) (uint64, error) {
	query := `SELECT count() FROM price_samples WHERE chain = ?`

	rows, err := r.db.Conn().Query(ctx, query, string(chain))
	if err != nil {
		return 0, fmt.Errorf("failed to count price samples: %w", err)
	}
	defer rows.Close()

	var count uint64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan count: %w", err)
		}
	}
	return count, rows.Err()
}
