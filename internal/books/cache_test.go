package books

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func snapAt(t time.Time) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		Venue:      domain.VenueKalshi,
		Instrument: "KXBTC15M-26AUG241200-T114000",
		Outcome:    domain.OutcomeYes,
		Asks:       []domain.PriceLevel{{Price: 0.45, Size: 120}},
		Bids:       []domain.PriceLevel{{Price: 0.43, Size: 80}},
		UpdatedAt:  t,
	}
}

func TestCacheFreshWithinTTL(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c := New(500 * time.Millisecond)
	c.now = func() time.Time { return base }

	snap := snapAt(base)
	c.Put(snap)

	k := Key{Venue: snap.Venue, Instrument: snap.Instrument, Outcome: snap.Outcome}

	c.now = func() time.Time { return base.Add(499 * time.Millisecond) }
	got, ok := c.Fresh(k)
	require.True(t, ok)
	assert.Equal(t, snap.Asks, got.Asks)

	age, ok := c.Age(k)
	require.True(t, ok)
	assert.Equal(t, 499*time.Millisecond, age)
}

func TestCacheStaleAfterTTL(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c := New(500 * time.Millisecond)
	c.now = func() time.Time { return base }
	c.Put(snapAt(base))

	k := Key{Venue: domain.VenueKalshi, Instrument: "KXBTC15M-26AUG241200-T114000", Outcome: domain.OutcomeYes}

	c.now = func() time.Time { return base.Add(501 * time.Millisecond) }
	_, ok := c.Fresh(k)
	assert.False(t, ok, "snapshot past TTL must not be served as fresh")

	// Still retrievable through Get for diagnostics.
	_, ok = c.Get(k)
	assert.True(t, ok)
}

func TestCacheMissingKey(t *testing.T) {
	c := New(500 * time.Millisecond)
	_, ok := c.Fresh(Key{Venue: domain.VenuePolymarket, Instrument: "nope", Outcome: domain.OutcomeNo})
	assert.False(t, ok)
	_, ok = c.Age(Key{Venue: domain.VenuePolymarket, Instrument: "nope", Outcome: domain.OutcomeNo})
	assert.False(t, ok)
}

func TestCachePutStampsZeroTime(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c := New(500 * time.Millisecond)
	c.now = func() time.Time { return base }

	snap := snapAt(time.Time{})
	c.Put(snap)

	got, ok := c.Get(Key{Venue: snap.Venue, Instrument: snap.Instrument, Outcome: snap.Outcome})
	require.True(t, ok)
	assert.Equal(t, base, got.UpdatedAt)
}

func TestCacheDrop(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c := New(500 * time.Millisecond)
	c.now = func() time.Time { return base }

	yes := snapAt(base)
	no := yes
	no.Outcome = domain.OutcomeNo
	c.Put(yes)
	c.Put(no)
	require.Equal(t, 2, c.Len())

	c.Drop(yes.Venue, yes.Instrument)
	assert.Equal(t, 0, c.Len())
}
