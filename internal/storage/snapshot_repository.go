package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wallet-analyzer/internal/types"
)

// AnalysisSnapshot is one persisted portfolio analysis. The headline
// numbers are stored as columns for querying; the full portfolio rides
// along as JSONB.
type AnalysisSnapshot struct {
	AnalysisID         string                `json:"analysisId"`
	Address            string                `json:"address"`
	Chain              types.ChainID         `json:"chain"`
	TotalValue         float64               `json:"totalValue"`
	TotalCostBasis     float64               `json:"totalCostBasis"`
	TotalUnrealizedPnL float64               `json:"totalUnrealizedPnl"`
	PerformancePercent *float64              `json:"performancePercent,omitempty"`
	Tier               types.PerformanceTier `json:"tier"`
	ComputedAt         time.Time             `json:"computedAt"`
	Portfolio          *types.Portfolio      `json:"portfolio,omitempty"`
}

// SnapshotRepository persists one analysis snapshot per wallet per day,
// giving each wallet a queryable valuation trail.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{
		pool: pool,
	}
}

// Save stores an analysis snapshot, replacing any earlier snapshot of
// the same wallet on the same day
func (r *SnapshotRepository) Save(ctx context.Context, portfolio *types.Portfolio) error {
	payload, err := json.Marshal(portfolio)
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio: %w", err)
	}

	query := `
		INSERT INTO portfolio_snapshots (
			analysis_id,
			address,
			chain,
			snapshot_date,
			total_value,
			total_cost_basis,
			total_unrealized_pnl,
			performance_percent,
			tier,
			computed_at,
			payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (address, chain, snapshot_date)
		DO UPDATE SET
			analysis_id = EXCLUDED.analysis_id,
			total_value = EXCLUDED.total_value,
			total_cost_basis = EXCLUDED.total_cost_basis,
			total_unrealized_pnl = EXCLUDED.total_unrealized_pnl,
			performance_percent = EXCLUDED.performance_percent,
			tier = EXCLUDED.tier,
			computed_at = EXCLUDED.computed_at,
			payload = EXCLUDED.payload
	`

	_, err = r.pool.Exec(ctx, query,
		portfolio.AnalysisID,
		portfolio.Address,
		string(portfolio.Chain),
		portfolio.ComputedAt.UTC().Truncate(24*time.Hour),
		portfolio.TotalValue,
		portfolio.TotalCostBasis,
		portfolio.TotalUnrealizedPnL,
		portfolio.PerformancePercent,
		string(portfolio.Tier),
		portfolio.ComputedAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// GetLatest returns the most recent snapshot for a wallet, or nil when
// none exists
func (r *SnapshotRepository) GetLatest(ctx context.Context, chain types.ChainID, address string) (*AnalysisSnapshot, error) {
	query := `
		SELECT analysis_id, address, chain, total_value, total_cost_basis,
		       total_unrealized_pnl, performance_percent, tier, computed_at, payload
		FROM portfolio_snapshots
		WHERE address = $1 AND chain = $2
		ORDER BY computed_at DESC
		LIMIT 1
	`

	snapshot, err := r.scanRow(r.pool.QueryRow(ctx, query, address, string(chain)))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snapshot, nil
}

// GetRange returns snapshots for a wallet between from and to,
// oldest first. The portfolio payload is omitted to keep result sets
// small.
func (r *SnapshotRepository) GetRange(ctx context.Context, chain types.ChainID, address string, from, to time.Time) ([]*AnalysisSnapshot, error) {
	query := `
		SELECT analysis_id, address, chain, total_value, total_cost_basis,
		       total_unrealized_pnl, performance_percent, tier, computed_at
		FROM portfolio_snapshots
		WHERE address = $1 AND chain = $2 AND computed_at BETWEEN $3 AND $4
		ORDER BY computed_at ASC
	`

	rows, err := r.pool.Query(ctx, query, address, string(chain), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*AnalysisSnapshot
	for rows.Next() {
		var s AnalysisSnapshot
		var chainStr, tierStr string
		if err := rows.Scan(
			&s.AnalysisID,
			&s.Address,
			&chainStr,
			&s.TotalValue,
			&s.TotalCostBasis,
			&s.TotalUnrealizedPnL,
			&s.PerformancePercent,
			&tierStr,
			&s.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Chain = types.ChainID(chainStr)
		s.Tier = types.PerformanceTier(tierStr)
		snapshots = append(snapshots, &s)
	}

	return snapshots, rows.Err()
}

func (r *SnapshotRepository) scanRow(row pgx.Row) (*AnalysisSnapshot, error) {
	var s AnalysisSnapshot
	var chainStr, tierStr string
	var payload []byte
	if err := row.Scan(
		&s.AnalysisID,
		&s.Address,
		&chainStr,
		&s.TotalValue,
		&s.TotalCostBasis,
		&s.TotalUnrealizedPnL,
		&s.PerformancePercent,
		&tierStr,
		&s.ComputedAt,
		&payload,
	); err != nil {
		return nil, err
	}
	s.Chain = types.ChainID(chainStr)
	s.Tier = types.PerformanceTier(tierStr)

	if len(payload) > 0 {
		var portfolio types.Portfolio
		if err := json.Unmarshal(payload, &portfolio); err != nil {
			return nil, fmt.Errorf("failed to unmarshal portfolio payload: %w", err)
		}
		s.Portfolio = &portfolio
	}

	return &s, nil
}
