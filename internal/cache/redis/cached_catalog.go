package redis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// catalogRegistrar is implemented by adapters that keep state derived from
// catalog fetches and need it restored when a catalog is served from cache.
type catalogRegistrar interface {
	RegisterCatalog(markets []domain.Market)
}

// CachedCatalogAdapter is a read-through decorator: catalog fetches inside
// the cache TTL skip the venue round trip, everything else passes through to
// the wrapped adapter.
type CachedCatalogAdapter struct {
	domain.VenueAdapter
	cache  *CatalogCache
	logger *slog.Logger
}

// NewCachedCatalogAdapter wraps adapter with catalog caching.
func NewCachedCatalogAdapter(adapter domain.VenueAdapter, cache *CatalogCache, logger *slog.Logger) *CachedCatalogAdapter {
	return &CachedCatalogAdapter{
		VenueAdapter: adapter,
		cache:        cache,
		logger:       logger.With("component", "catalog_cache", "venue", adapter.Venue()),
	}
}

// FetchCatalog serves from cache when fresh, otherwise fetches from the
// venue and refills the cache. Cache failures degrade to a plain fetch.
func (c *CachedCatalogAdapter) FetchCatalog(ctx context.Context, filter domain.CatalogFilter) ([]domain.Market, error) {
	markets, err := c.cache.Get(ctx, c.Venue())
	if err == nil {
		if r, ok := c.VenueAdapter.(catalogRegistrar); ok {
			r.RegisterCatalog(markets)
		}
		c.logger.Debug("catalog served from cache", "markets", len(markets))
		return markets, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.Warn("catalog cache read failed", "error", err)
	}

	markets, err = c.VenueAdapter.FetchCatalog(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, c.Venue(), markets); err != nil {
		c.logger.Warn("catalog cache write failed", "error", err)
	}
	return markets, nil
}
