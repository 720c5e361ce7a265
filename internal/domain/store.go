package domain

import (
	"context"
	"time"
)

// OpportunityDecision records what the pipeline did with a detected
// opportunity.
type OpportunityDecision string

const (
	DecisionExecuted OpportunityDecision = "executed"
	DecisionRejected OpportunityDecision = "rejected"
	DecisionAborted  OpportunityDecision = "aborted"
)

// OpportunityRecord is an opportunity together with its pipeline outcome.
// Both accepted and rejected opportunities are journalled so a post-mortem
// can reconstruct why any profitable-looking price did not trade.
type OpportunityRecord struct {
	Opportunity
	Decision OpportunityDecision
	Reason   string
}

// PairStore persists matched pairs.
type PairStore interface {
	Insert(ctx context.Context, pair MatchedPair) error
	Invalidate(ctx context.Context, pairID, reason string) error
}

// OpportunityStore persists opportunity decisions.
type OpportunityStore interface {
	Insert(ctx context.Context, rec OpportunityRecord) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]OpportunityRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TradeStore persists executed trades.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UnwindStore persists unwind reports.
type UnwindStore interface {
	Insert(ctx context.Context, rep UnwindReport) error
}

// RiskStore persists risk state snapshots.
type RiskStore interface {
	Insert(ctx context.Context, snap RiskSnapshot) error
}
