package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, opportunity_id, pair_key, strategy, size,
	total_cost, expected_net, unwound,
	kalshi_order_id, kalshi_instrument, kalshi_side, kalshi_price, kalshi_filled, kalshi_cost, kalshi_fee, kalshi_status,
	poly_order_id, poly_instrument, poly_side, poly_price, poly_filled, poly_cost, poly_fee, poly_status,
	executed_at`

// Insert persists one executed trade. Trades are immutable after write.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, opportunity_id, pair_key, strategy, size,
			total_cost, expected_net, unwound,
			kalshi_order_id, kalshi_instrument, kalshi_side, kalshi_price, kalshi_filled, kalshi_cost, kalshi_fee, kalshi_status,
			poly_order_id, poly_instrument, poly_side, poly_price, poly_filled, poly_cost, poly_fee, poly_status,
			executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24,
			$25
		) ON CONFLICT (id) DO NOTHING`

	k, p := t.KalshiLeg, t.PolyLeg
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.OpportunityID, t.PairKey, string(t.Strategy), t.Size,
		t.TotalCost, t.ExpectedNet, t.Unwound,
		k.OrderID, k.Instrument, string(k.Side), k.Price, k.FilledSize, k.Cost, k.Fee, string(k.Status),
		p.OrderID, p.Instrument, string(p.Side), p.Price, p.FilledSize, p.Cost, p.Fee, string(p.Status),
		t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

// ListBefore returns trades executed strictly before cutoff, oldest first.
// Used by the archiver.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes trades executed before cutoff. Returns the number
// deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var strategy, kSide, kStatus, pSide, pStatus string
		if err := rows.Scan(
			&t.ID, &t.OpportunityID, &t.PairKey, &strategy, &t.Size,
			&t.TotalCost, &t.ExpectedNet, &t.Unwound,
			&t.KalshiLeg.OrderID, &t.KalshiLeg.Instrument, &kSide, &t.KalshiLeg.Price, &t.KalshiLeg.FilledSize,
			&t.KalshiLeg.Cost, &t.KalshiLeg.Fee, &kStatus,
			&t.PolyLeg.OrderID, &t.PolyLeg.Instrument, &pSide, &t.PolyLeg.Price, &t.PolyLeg.FilledSize,
			&t.PolyLeg.Cost, &t.PolyLeg.Fee, &pStatus,
			&t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.Strategy = domain.ArbStrategy(strategy)
		t.KalshiLeg.Venue = domain.VenueKalshi
		t.KalshiLeg.Side = domain.Side(kSide)
		t.KalshiLeg.Status = domain.OrderStatus(kStatus)
		t.PolyLeg.Venue = domain.VenuePolymarket
		t.PolyLeg.Side = domain.Side(pSide)
		t.PolyLeg.Status = domain.OrderStatus(pStatus)
		out = append(out, t)
	}
	return out, rows.Err()
}
