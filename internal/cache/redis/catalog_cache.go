package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// catalogTTL is short on purpose: 15-minute markets roll over constantly and
// a stale catalog would match already-resolved instruments.
const catalogTTL = 2 * time.Minute

// CatalogCache stores the most recent venue catalog fetch so restarts and
// rediscovery cycles inside the TTL skip the venue round trip.
//
// Key schema:
//
//	catalog:{venue} - JSON-encoded []domain.Market
type CatalogCache struct {
	rdb *redis.Client
}

// NewCatalogCache creates a CatalogCache backed by the given Client.
func NewCatalogCache(c *Client) *CatalogCache {
	return &CatalogCache{rdb: c.Underlying()}
}

func catalogKey(venue domain.Venue) string { return "catalog:" + string(venue) }

// Set stores one venue's catalog with the standard TTL.
func (cc *CatalogCache) Set(ctx context.Context, venue domain.Venue, markets []domain.Market) error {
	data, err := json.Marshal(markets)
	if err != nil {
		return fmt.Errorf("redis: marshal catalog %s: %w", venue, err)
	}
	if err := cc.rdb.Set(ctx, catalogKey(venue), data, catalogTTL).Err(); err != nil {
		return fmt.Errorf("redis: set catalog %s: %w", venue, err)
	}
	return nil
}

// Get retrieves a venue catalog. It returns domain.ErrNotFound when no fresh
// catalog is cached.
func (cc *CatalogCache) Get(ctx context.Context, venue domain.Venue) ([]domain.Market, error) {
	data, err := cc.rdb.Get(ctx, catalogKey(venue)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get catalog %s: %w", venue, err)
	}

	var markets []domain.Market
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("redis: unmarshal catalog %s: %w", venue, err)
	}
	return markets, nil
}

// Invalidate drops one venue's cached catalog.
func (cc *CatalogCache) Invalidate(ctx context.Context, venue domain.Venue) error {
	if err := cc.rdb.Del(ctx, catalogKey(venue)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate catalog %s: %w", venue, err)
	}
	return nil
}
