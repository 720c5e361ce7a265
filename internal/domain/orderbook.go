package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64 // contracts available at this price
}

// OrderbookSnapshot is the top levels of one outcome's book on one venue.
// Asks are ordered ascending by price, bids descending.
type OrderbookSnapshot struct {
	Venue      Venue
	Instrument string
	Outcome    Outcome
	Asks       []PriceLevel
	Bids       []PriceLevel
	UpdatedAt  time.Time
}

// BestAsk returns the lowest ask level, or false when the ask side is empty.
func (s OrderbookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the highest bid level, or false when the bid side is empty.
func (s OrderbookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// AgeMillis returns the snapshot age at now in milliseconds.
func (s OrderbookSnapshot) AgeMillis(now time.Time) int64 {
	return now.Sub(s.UpdatedAt).Milliseconds()
}

// BookUpdateFunc is invoked by a venue adapter's push subscription for every
// orderbook change, in per-instrument arrival order.
type BookUpdateFunc func(snap OrderbookSnapshot)
