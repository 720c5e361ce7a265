package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, pair_id, pair_key, strategy,
	kalshi_instrument, kalshi_side, kalshi_price,
	poly_instrument, poly_side, poly_price,
	gross_cost, fees, net_profit, decision, reason, detected_at`

// Insert persists one opportunity decision.
func (s *OpportunityStore) Insert(ctx context.Context, rec domain.OpportunityRecord) error {
	const query = `
		INSERT INTO opportunities (
			id, pair_id, pair_key, strategy,
			kalshi_instrument, kalshi_side, kalshi_price,
			poly_instrument, poly_side, poly_price,
			gross_cost, fees, net_profit, decision, reason, detected_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15, $16
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.PairID, rec.PairKey, string(rec.Strategy),
		rec.KalshiLeg.Instrument, string(rec.KalshiLeg.Side), rec.KalshiLeg.Price,
		rec.PolyLeg.Instrument, string(rec.PolyLeg.Side), rec.PolyLeg.Price,
		rec.GrossCost, rec.Fees, rec.NetProfit,
		string(rec.Decision), rec.Reason, rec.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity: %w", err)
	}
	return nil
}

// ListBefore returns opportunities detected strictly before cutoff, oldest
// first. Used by the archiver.
func (s *OpportunityStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.OpportunityRecord, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	defer rows.Close()
	return scanOpportunityRows(rows)
}

// DeleteBefore deletes opportunities detected before cutoff. Returns the
// number deleted.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOpportunityRows(rows pgx.Rows) ([]domain.OpportunityRecord, error) {
	var out []domain.OpportunityRecord
	for rows.Next() {
		var rec domain.OpportunityRecord
		var strategy, kalshiSide, polySide, decision string
		if err := rows.Scan(
			&rec.ID, &rec.PairID, &rec.PairKey, &strategy,
			&rec.KalshiLeg.Instrument, &kalshiSide, &rec.KalshiLeg.Price,
			&rec.PolyLeg.Instrument, &polySide, &rec.PolyLeg.Price,
			&rec.GrossCost, &rec.Fees, &rec.NetProfit,
			&decision, &rec.Reason, &rec.DetectedAt,
		); err != nil {
			return nil, err
		}
		rec.Strategy = domain.ArbStrategy(strategy)
		rec.KalshiLeg.Venue = domain.VenueKalshi
		rec.KalshiLeg.Side = domain.Side(kalshiSide)
		rec.PolyLeg.Venue = domain.VenuePolymarket
		rec.PolyLeg.Side = domain.Side(polySide)
		rec.Decision = domain.OpportunityDecision(decision)
		out = append(out, rec)
	}
	return out, rows.Err()
}
