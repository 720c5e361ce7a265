package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// UnwindStore implements domain.UnwindStore using PostgreSQL.
type UnwindStore struct {
	pool *pgxpool.Pool
}

// NewUnwindStore creates a new UnwindStore backed by the given connection
// pool.
func NewUnwindStore(pool *pgxpool.Pool) *UnwindStore {
	return &UnwindStore{pool: pool}
}

// Insert persists one unwind report. Infeasible candidate costs arrive as
// +Inf, which float8 round-trips.
func (s *UnwindStore) Insert(ctx context.Context, rep domain.UnwindReport) error {
	const query = `
		INSERT INTO unwind_reports (
			id, trade_id, venue, instrument, outcome, quantity,
			cancel_cost, hedge_cost, aggressive_cost,
			action, chosen_cost, order_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rep.ID, rep.TradeID, string(rep.Venue), rep.Instrument, string(rep.Outcome), rep.Quantity,
		rep.CancelCost, rep.HedgeCost, rep.AggressiveCost,
		string(rep.Action), rep.ChosenCost, rep.OrderID, rep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert unwind report: %w", err)
	}
	return nil
}
