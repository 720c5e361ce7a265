package domain

import "time"

// ArbStrategy names one of the two compensating leg combinations.
type ArbStrategy string

const (
	// StrategyYesKalshiNoPoly buys YES on Kalshi and NO on Polymarket.
	StrategyYesKalshiNoPoly ArbStrategy = "yes_kalshi_no_poly"
	// StrategyNoKalshiYesPoly buys NO on Kalshi and YES on Polymarket.
	StrategyNoKalshiYesPoly ArbStrategy = "no_kalshi_yes_poly"
)

// Ordinal returns the deterministic tie-break order of the strategy.
func (s ArbStrategy) Ordinal() int {
	if s == StrategyYesKalshiNoPoly {
		return 0
	}
	return 1
}

// Leg is one half of an opportunity: a venue, a pre-resolved instrument, the
// side to buy, and the exact observed target price.
type Leg struct {
	Venue      Venue
	Instrument string
	Side       Side
	Price      float64
}

// Opportunity is a detected, fee-adjusted profitable pair of legs. It is
// immutable after creation and consumed at most once.
type Opportunity struct {
	ID         string
	PairID     string
	PairKey    string
	Strategy   ArbStrategy
	KalshiLeg  Leg
	PolyLeg    Leg
	GrossCost  float64 // sum of leg prices per unit
	Fees       float64 // fee-model fees per unit
	NetProfit  float64 // 1 - GrossCost - Fees
	DetectedAt time.Time
}

// Age returns how long ago the opportunity was detected.
func (o Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}

// Legs returns both legs in (kalshi, polymarket) order.
func (o Opportunity) Legs() (Leg, Leg) {
	return o.KalshiLeg, o.PolyLeg
}
