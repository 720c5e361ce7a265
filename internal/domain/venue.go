package domain

import "context"

// Side is a normalized order direction. Venue adapters map these onto their
// native representations (Kalshi action/side pairs, Polymarket outcome
// tokens). Sell sides exist for the unwind path only.
type Side string

const (
	SideBuyYes  Side = "buy_yes"
	SideBuyNo   Side = "buy_no"
	SideSellYes Side = "sell_yes"
	SideSellNo  Side = "sell_no"
)

// Outcome returns the outcome the side trades.
func (s Side) Outcome() Outcome {
	switch s {
	case SideBuyYes, SideSellYes:
		return OutcomeYes
	default:
		return OutcomeNo
	}
}

// IsBuy reports whether the side opens a position.
func (s Side) IsBuy() bool {
	return s == SideBuyYes || s == SideBuyNo
}

// OrderStatus tracks the venue-side lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusResting  OrderStatus = "resting"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// OrderRequest is a normalized limit order.
type OrderRequest struct {
	Instrument string
	Side       Side
	Size       int64   // contracts
	Price      float64 // probability units in [0,1]
}

// OrderState is the venue-side view of a previously placed order.
type OrderState struct {
	OrderID    string
	Status     OrderStatus
	FilledSize int64
	AvgPrice   float64
	FeePaid    float64
}

// CatalogFilter narrows a venue catalog fetch.
type CatalogFilter struct {
	Series []string // venue-specific series/tag identifiers
	Status string   // "active", "closed", or "" for all
	Limit  int
}

// VenueAdapter normalizes one venue's REST and push interfaces. All calls
// carry a context deadline; adapters retry transient network failures
// internally and surface ErrVenueUnavailable once the retry budget is spent.
// Invalid-input failures surface as ErrInvalidOrder and indicate a bug.
type VenueAdapter interface {
	Venue() Venue

	FetchCatalog(ctx context.Context, filter CatalogFilter) ([]Market, error)
	GetOrderbook(ctx context.Context, instrument string, outcome Outcome) (OrderbookSnapshot, error)
	GetBalance(ctx context.Context) (float64, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	GetOrder(ctx context.Context, orderID string) (OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error

	// SubscribeOrderbooks registers fn for push updates on the given
	// instruments. fn is called once per outcome book per update.
	SubscribeOrderbooks(ctx context.Context, instruments []string, fn BookUpdateFunc) error

	Close() error
}

// BalanceFetcher is the narrow read-only slice of VenueAdapter the risk
// manager needs for authoritative balance syncs.
type BalanceFetcher interface {
	GetBalance(ctx context.Context) (float64, error)
}
