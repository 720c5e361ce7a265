package kalshi

import (
	"encoding/json"
	"time"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// Market represents a market as returned by the Kalshi REST API.
type Market struct {
	Ticker          string  `json:"ticker"`
	EventTicker     string  `json:"event_ticker"`
	Title           string  `json:"title"`
	Subtitle        string  `json:"subtitle"`
	Status          string  `json:"status"` // "open", "closed", "settled"
	YesBid          int64   `json:"yes_bid"`
	YesAsk          int64   `json:"yes_ask"`
	NoBid           int64   `json:"no_bid"`
	NoAsk           int64   `json:"no_ask"`
	LastPrice       int64   `json:"last_price"`
	Volume          int64   `json:"volume"`
	Volume24H       int64   `json:"volume_24h"`
	OpenInterest    int64   `json:"open_interest"`
	StrikeType      string  `json:"strike_type"`
	FloorStrike     float64 `json:"floor_strike"`
	CapStrike       float64 `json:"cap_strike"`
	Result          string  `json:"result"` // "yes", "no", "" (unsettled)
	CanCloseEarly   bool    `json:"can_close_early"`
	OpenTime        string  `json:"open_time"`
	CloseTime       string  `json:"close_time"`
	ExpirationTime  string  `json:"expiration_time"`
	SettlementTimer int64   `json:"settlement_timer_seconds"`
	RulesPrimary    string  `json:"rules_primary"`
}

// Orderbook is the resting-bid view of a Kalshi market: "yes" and "no" are
// each the bid ladder for that outcome, in cents. Asks are implied by the
// opposite outcome's bids.
type Orderbook struct {
	Ticker    string       `json:"ticker"`
	YesBids   []PriceLevel `json:"yes"`
	NoBids    []PriceLevel `json:"no"`
	Timestamp time.Time    `json:"-"`
}

// PriceLevel is a single price+quantity entry in the Kalshi orderbook.
type PriceLevel struct {
	Price    int64 `json:"price"`    // in cents (1-99)
	Quantity int64 `json:"quantity"` // number of contracts
}

// UnmarshalJSON accepts both wire shapes: the REST/snapshot array form
// [price, qty] and the object form {"price": p, "quantity": q}.
func (p *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err == nil {
		p.Price, p.Quantity = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Price    int64 `json:"price"`
		Quantity int64 `json:"quantity"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.Price, p.Quantity = obj.Price, obj.Quantity
	return nil
}

// Order represents an order to be placed on the Kalshi exchange.
type Order struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"` // limit price in cents (1-99)
	NoPrice       *int64 `json:"no_price,omitempty"`
	Expiration    *int64 `json:"expiration_ts,omitempty"`
	BuyMaxCost    *int64 `json:"buy_max_cost,omitempty"`
}

// OrderStatus is the venue-side view of an order.
type OrderStatus struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	InitialCount   int64  `json:"initial_count"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"` // cents
	MakerFillCount int64  `json:"maker_fill_count"`
	TakerFees      int64  `json:"taker_fees"` // cents
	PlacedTime     string `json:"placed_time"`
	LastUpdateTime string `json:"last_update_time"`
}

// FilledCount returns the total filled contracts across taker and maker
// fills.
func (o OrderStatus) FilledCount() int64 {
	return o.TakerFillCount + o.MakerFillCount
}

type orderEnvelope struct {
	Order OrderStatus `json:"order"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// wsMessage is the envelope for Kalshi WebSocket messages.
type wsMessage struct {
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", ...
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
}

// wsOrderbook is the orderbook data received via WebSocket.
type wsOrderbook struct {
	Ticker string       `json:"market_ticker"`
	Yes    []PriceLevel `json:"yes"`
	No     []PriceLevel `json:"no"`
}

func (w *wsOrderbook) toOrderbook() Orderbook {
	return Orderbook{
		Ticker:    w.Ticker,
		YesBids:   w.Yes,
		NoBids:    w.No,
		Timestamp: time.Now(),
	}
}

// wsDelta is a single price level change on the orderbook_delta channel.
// delta is signed; the level's resting quantity moves by that amount.
type wsDelta struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
	Delta  int64  `json:"delta"`
	Side   string `json:"side"` // "yes" or "no"
}

// wsSubscribeCmd is the command sent to subscribe to WebSocket channels.
type wsSubscribeCmd struct {
	ID     int64             `json:"id"`
	Cmd    string            `json:"cmd"` // "subscribe" or "unsubscribe"
	Params wsSubscribeParams `json:"params"`
}

// wsSubscribeParams defines the subscription parameters.
type wsSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}
