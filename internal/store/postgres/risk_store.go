package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// RiskStore implements domain.RiskStore using PostgreSQL.
type RiskStore struct {
	pool *pgxpool.Pool
}

// NewRiskStore creates a new RiskStore backed by the given connection pool.
func NewRiskStore(pool *pgxpool.Pool) *RiskStore {
	return &RiskStore{pool: pool}
}

// Insert persists one risk state snapshot.
func (s *RiskStore) Insert(ctx context.Context, snap domain.RiskSnapshot) error {
	const query = `
		INSERT INTO risk_snapshots (
			bankroll, day_start_bankroll, daily_pnl, exposure,
			kill_switch, kill_reason, last_sync_at, last_reset_date, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var lastSync any
	if !snap.LastSyncAt.IsZero() {
		lastSync = snap.LastSyncAt
	}

	_, err := s.pool.Exec(ctx, query,
		snap.Bankroll, snap.DayStartBankroll, snap.DailyPnL, snap.Exposure,
		snap.KillSwitch, snap.KillReason, lastSync, snap.LastResetDate, snap.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert risk snapshot: %w", err)
	}
	return nil
}
