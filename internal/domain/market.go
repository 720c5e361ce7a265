// Package domain defines the core types shared by every component of the
// cross-venue arbitrage engine: markets, matched pairs, orderbooks,
// opportunities, trades, and the venue adapter contract.
package domain

import (
	"fmt"
	"time"
)

// Venue identifies one of the two supported exchanges.
type Venue string

const (
	VenueKalshi     Venue = "kalshi"
	VenuePolymarket Venue = "polymarket"
)

// Outcome is one of the two sides of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Opposite returns the other outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Market is a single binary instrument on one venue. The Instrument field is
// an opaque venue identifier; only the owning adapter may interpret its shape
// (Kalshi series-dated tickers, Polymarket condition IDs).
type Market struct {
	Venue            Venue
	Instrument       string
	Title            string
	Asset            string // normalized asset tag ("btc", "eth", ...), set by the matcher
	ResolutionTime   time.Time
	ResolutionSource string
	Threshold        float64 // strike level; 0 for up/down markets
	YesPrice         float64 // best YES ask in [0,1]
	NoPrice          float64 // best NO ask in [0,1]
	YesVolume        float64
	NoVolume         float64
	Status           string // "active", "closed", "settled"
	Metadata         map[string]string
}

// TimeToResolution returns the remaining lifetime of the market at now.
func (m Market) TimeToResolution(now time.Time) time.Duration {
	return m.ResolutionTime.Sub(now)
}

// MatchedPair is a pair of markets on opposite venues that resolve to the same
// real-world outcome.
type MatchedPair struct {
	ID             string
	Kalshi         Market
	Polymarket     Market
	Asset          string
	ResolutionTime time.Time
	Key            string // semantic key, stable across rediscovery
	CreatedAt      time.Time
}

// PairKey builds the semantic key for an asset resolving at the given minute.
func PairKey(asset string, resolution time.Time) string {
	return fmt.Sprintf("%s:%d", asset, resolution.UTC().Unix())
}
