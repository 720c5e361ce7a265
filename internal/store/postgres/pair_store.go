package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// PairStore implements domain.PairStore using PostgreSQL.
type PairStore struct {
	pool *pgxpool.Pool
}

// NewPairStore creates a new PairStore backed by the given connection pool.
func NewPairStore(pool *pgxpool.Pool) *PairStore {
	return &PairStore{pool: pool}
}

// Insert persists a matched pair. Re-discovering the same pair ID is a no-op.
func (s *PairStore) Insert(ctx context.Context, pair domain.MatchedPair) error {
	const query = `
		INSERT INTO pairs (
			id, pair_key, asset, resolution_time,
			kalshi_instrument, poly_instrument, kalshi_title, poly_title,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		pair.ID, pair.Key, pair.Asset, pair.ResolutionTime,
		pair.Kalshi.Instrument, pair.Polymarket.Instrument,
		pair.Kalshi.Title, pair.Polymarket.Title,
		pair.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert pair: %w", err)
	}
	return nil
}

// Invalidate marks a pair as no longer tradable.
func (s *PairStore) Invalidate(ctx context.Context, pairID, reason string) error {
	const query = `
		UPDATE pairs
		SET invalidated_at = NOW(), invalidate_reason = $2
		WHERE id = $1 AND invalidated_at IS NULL`

	_, err := s.pool.Exec(ctx, query, pairID, reason)
	if err != nil {
		return fmt.Errorf("postgres: invalidate pair: %w", err)
	}
	return nil
}
