// Package books holds the in-process orderbook snapshot cache. Snapshots are
// written by the venue websocket feeds and read on the detection and execution
// hot paths, so the cache lives in memory rather than behind a network hop.
package books

import (
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Key identifies one cached book: a venue, its instrument identifier, and the
// outcome side the book quotes.
type Key struct {
	Venue      domain.Venue
	Instrument string
	Outcome    domain.Outcome
}

// Cache is a TTL-guarded snapshot store. A snapshot older than the TTL is
// still returned by Get but reported as stale; callers on the execution path
// must refetch rather than trade on it.
type Cache struct {
	mu    sync.RWMutex
	books map[Key]domain.OrderbookSnapshot
	ttl   time.Duration
	now   func() time.Time
}

// New returns a Cache with the given freshness TTL.
func New(ttl time.Duration) *Cache {
	return &Cache{
		books: make(map[Key]domain.OrderbookSnapshot),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stores a snapshot, replacing any previous snapshot for the same key.
// Snapshots with a zero UpdatedAt are stamped with the current time.
func (c *Cache) Put(snap domain.OrderbookSnapshot) {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = c.now()
	}
	k := Key{Venue: snap.Venue, Instrument: snap.Instrument, Outcome: snap.Outcome}
	c.mu.Lock()
	c.books[k] = snap
	c.mu.Unlock()
}

// Get returns the cached snapshot for the key, if any.
func (c *Cache) Get(k Key) (domain.OrderbookSnapshot, bool) {
	c.mu.RLock()
	snap, ok := c.books[k]
	c.mu.RUnlock()
	return snap, ok
}

// Fresh returns the cached snapshot only if it is within the TTL.
// A missing snapshot returns domain.ErrNotFound semantics via ok=false;
// an expired one returns ok=false as well.
func (c *Cache) Fresh(k Key) (domain.OrderbookSnapshot, bool) {
	snap, ok := c.Get(k)
	if !ok {
		return domain.OrderbookSnapshot{}, false
	}
	if c.now().Sub(snap.UpdatedAt) > c.ttl {
		return domain.OrderbookSnapshot{}, false
	}
	return snap, true
}

// Age returns how old the cached snapshot is, or (0, false) if absent.
func (c *Cache) Age(k Key) (time.Duration, bool) {
	snap, ok := c.Get(k)
	if !ok {
		return 0, false
	}
	return c.now().Sub(snap.UpdatedAt), true
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Drop removes all snapshots for an instrument on a venue, both outcomes.
// Used when a pair is invalidated or its market closes.
func (c *Cache) Drop(venue domain.Venue, instrument string) {
	c.mu.Lock()
	delete(c.books, Key{Venue: venue, Instrument: instrument, Outcome: domain.OutcomeYes})
	delete(c.books, Key{Venue: venue, Instrument: instrument, Outcome: domain.OutcomeNo})
	c.mu.Unlock()
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}
