package polymarket

import (
	"encoding/json"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// GammaMarket is a market as returned by the Polymarket Gamma API. The
// Outcomes, OutcomePrices, and ClobTokenIDs fields are JSON-encoded arrays
// inside strings, as the Gamma API delivers them.
type GammaMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Description   string   `json:"description"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // e.g. "[\"0.36\",\"0.64\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`  // e.g. "[\"123...\",\"456...\"]"
	Volume        string   `json:"volume"`
	EndDateISO    string   `json:"endDateIso"`
	EndDate       string   `json:"endDate"`
	CreatedAt     string   `json:"createdAt"`
}

// stringArray decodes one of the JSON-encoded array-in-string fields.
func stringArray(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil
	}
	return out
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// BookLevel is a single price level in a CLOB orderbook response. Prices and
// sizes arrive as decimal strings.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Book is the orderbook for one outcome token.
type Book struct {
	Market    string      `json:"market"` // condition ID
	AssetID   string      `json:"asset_id"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"` // unix millis as string
	Hash      string      `json:"hash"`
}

// APIOrder is an order as returned by the CLOB API.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "live", "matched", "delayed", "cancelled"
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Owner        string `json:"owner"`
	CreatedAt    string `json:"created_at"`
}

// APIOrderResult is the response from placing an order.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsBookMessage is a full orderbook snapshot delivered on the market channel.
type wsBookMessage struct {
	EventType string      `json:"event_type"` // "book"
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
	Hash      string      `json:"hash"`
}

func (m *wsBookMessage) toBook() Book {
	return Book{
		Market:    m.Market,
		AssetID:   m.AssetID,
		Bids:      m.Bids,
		Asks:      m.Asks,
		Timestamp: m.Timestamp,
		Hash:      m.Hash,
	}
}

// wsSubscribeCmd is the market-channel subscription payload.
type wsSubscribeCmd struct {
	Type   string   `json:"type"` // "market"
	Assets []string `json:"assets_ids"`
}
