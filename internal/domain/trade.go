package domain

import "time"

// TradeLeg records the realized outcome of one leg of an executed trade.
type TradeLeg struct {
	Venue      Venue
	OrderID    string
	Instrument string
	Side       Side
	Price      float64 // limit price as placed
	FilledSize int64
	Cost       float64 // price * filled size
	Fee        float64
	Status     OrderStatus
}

// Trade is an executed (or terminally resolved) opportunity. Immutable after
// write.
type Trade struct {
	ID            string
	OpportunityID string
	PairKey       string
	Strategy      ArbStrategy
	Size          int64 // target contracts per leg
	KalshiLeg     TradeLeg
	PolyLeg       TradeLeg
	TotalCost     float64 // both legs, fees included
	ExpectedNet   float64 // per-unit net profit at detection time
	Unwound       bool
	ExecutedAt    time.Time
}

// Balanced reports whether both legs filled at the target size.
func (t Trade) Balanced() bool {
	return t.KalshiLeg.Status == OrderStatusFilled &&
		t.PolyLeg.Status == OrderStatusFilled &&
		t.KalshiLeg.FilledSize == t.Size &&
		t.PolyLeg.FilledSize == t.Size
}

// UnwindAction names a neutralization path for an imbalanced position.
type UnwindAction string

const (
	UnwindCancel     UnwindAction = "cancel"
	UnwindHedge      UnwindAction = "hedge"
	UnwindAggressive UnwindAction = "aggressive"
	UnwindNone       UnwindAction = "none" // nothing left to neutralize
)

// UnwindReport records an unwind decision: every candidate cost that was
// evaluated from live books, the chosen action, and its realized cost.
// Infeasible candidates carry +Inf.
type UnwindReport struct {
	ID             string
	TradeID        string
	Venue          Venue // venue carrying the residual position
	Instrument     string
	Outcome        Outcome
	Quantity       int64 // residual contracts neutralized
	CancelCost     float64
	HedgeCost      float64
	AggressiveCost float64
	Action         UnwindAction
	ChosenCost     float64
	OrderID        string // neutralizing order, if one was placed
	CreatedAt      time.Time
}

// RiskSnapshot is a point-in-time copy of the risk manager's state.
type RiskSnapshot struct {
	Bankroll         float64
	DayStartBankroll float64
	DailyPnL         float64
	Exposure         float64
	KillSwitch       bool
	KillReason       string
	LastSyncAt       time.Time
	LastResetDate    string // local calendar date, YYYY-MM-DD
	At               time.Time
}
