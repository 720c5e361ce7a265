package kalshi

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// seriesAssets maps the 15-minute crypto series tickers to canonical asset
// tags. Kalshi resolves these against the CF Benchmarks real-time index.
var seriesAssets = map[string]string{
	"KXBTC15M": "BTC",
	"KXETH15M": "ETH",
	"KXSOL15M": "SOL",
}

const resolutionSource = "CF Benchmarks"

// Adapter presents Kalshi through the common venue contract. Prices cross
// the boundary in probability units; cents stay inside this package.
type Adapter struct {
	client *Client
	wsURL  string
	logger *slog.Logger

	ws *WSClient
}

// NewAdapter wires the REST client into the venue contract.
func NewAdapter(client *Client, wsURL string, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		wsURL:  wsURL,
		logger: logger.With("component", "kalshi"),
	}
}

// Venue implements domain.VenueAdapter.
func (a *Adapter) Venue() domain.Venue { return domain.VenueKalshi }

// FetchCatalog lists open markets for the configured series tickers.
func (a *Adapter) FetchCatalog(ctx context.Context, filter domain.CatalogFilter) ([]domain.Market, error) {
	status := filter.Status
	if status == "active" {
		status = "open"
	}

	var out []domain.Market
	for _, series := range filter.Series {
		markets, err := a.client.GetMarkets(ctx, series, status, filter.Limit)
		if err != nil {
			return nil, fmt.Errorf("kalshi: catalog for %s: %w", series, err)
		}
		for _, m := range markets {
			dm, err := a.toDomainMarket(m)
			if err != nil {
				a.logger.Warn("skipping unparseable market", "ticker", m.Ticker, "error", err)
				continue
			}
			out = append(out, dm)
		}
	}
	return out, nil
}

// GetOrderbook fetches the live book for one outcome. The outcome's asks are
// derived from the opposite outcome's bids: buying YES at p is matched by a
// NO bid at 1-p.
func (a *Adapter) GetOrderbook(ctx context.Context, instrument string, outcome domain.Outcome) (domain.OrderbookSnapshot, error) {
	ob, err := a.client.GetOrderbook(ctx, instrument)
	if err != nil {
		return domain.OrderbookSnapshot{}, err
	}
	return snapshotFor(ob, outcome), nil
}

// GetBalance returns the available balance in dollars.
func (a *Adapter) GetBalance(ctx context.Context) (float64, error) {
	cents, err := a.client.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	return float64(cents) / 100, nil
}

// PlaceOrder submits a limit order. The normalized side maps onto Kalshi's
// action+side pair and the price onto the matching cents field.
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	cents := toCents(req.Price)
	if cents < 1 || cents > 99 {
		return "", fmt.Errorf("kalshi: price %.4f outside (0.01, 0.99): %w", req.Price, domain.ErrInvalidOrder)
	}
	if req.Size < 1 {
		return "", fmt.Errorf("kalshi: size %d: %w", req.Size, domain.ErrInvalidOrder)
	}

	order := Order{
		Ticker:        req.Instrument,
		ClientOrderID: uuid.NewString(),
		Type:          "limit",
		Count:         req.Size,
	}
	switch req.Side {
	case domain.SideBuyYes:
		order.Action, order.Side, order.YesPrice = "buy", "yes", &cents
	case domain.SideBuyNo:
		order.Action, order.Side, order.NoPrice = "buy", "no", &cents
	case domain.SideSellYes:
		order.Action, order.Side, order.YesPrice = "sell", "yes", &cents
	case domain.SideSellNo:
		order.Action, order.Side, order.NoPrice = "sell", "no", &cents
	default:
		return "", fmt.Errorf("kalshi: side %q: %w", req.Side, domain.ErrInvalidOrder)
	}

	st, err := a.client.PlaceOrder(ctx, order)
	if err != nil {
		return "", err
	}
	if st.Status == "canceled" {
		return "", fmt.Errorf("kalshi: order canceled on arrival: %w", domain.ErrVenueRejected)
	}
	return st.OrderID, nil
}

// GetOrder implements domain.VenueAdapter.
func (a *Adapter) GetOrder(ctx context.Context, orderID string) (domain.OrderState, error) {
	st, err := a.client.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderState{}, err
	}
	return toOrderState(st), nil
}

// CancelOrder implements domain.VenueAdapter.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	return a.client.CancelOrder(ctx, orderID)
}

// SubscribeOrderbooks opens the websocket feed and fans each book update out
// as one snapshot per outcome.
func (a *Adapter) SubscribeOrderbooks(ctx context.Context, instruments []string, fn domain.BookUpdateFunc) error {
	if a.ws == nil {
		a.ws = NewWSClient(a.wsURL, func(ob Orderbook) {
			fn(snapshotFor(ob, domain.OutcomeYes))
			fn(snapshotFor(ob, domain.OutcomeNo))
		}, a.logger)
		if err := a.ws.Connect(ctx); err != nil {
			a.ws = nil
			return err
		}
	}
	return a.ws.Subscribe(ctx, instruments)
}

// Close implements domain.VenueAdapter.
func (a *Adapter) Close() error {
	if a.ws != nil {
		return a.ws.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

func toCents(price float64) int64 {
	return int64(math.Round(price * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

// toDomainMarket converts a REST market DTO. The close time is the
// resolution timestamp for 15-minute binaries.
func (a *Adapter) toDomainMarket(m Market) (domain.Market, error) {
	closeAt, err := time.Parse(time.RFC3339, m.CloseTime)
	if err != nil {
		return domain.Market{}, fmt.Errorf("parse close_time %q: %w", m.CloseTime, err)
	}

	asset := ""
	for prefix, tag := range seriesAssets {
		if strings.HasPrefix(m.Ticker, prefix) {
			asset = tag
			break
		}
	}

	status := m.Status
	if status == "open" {
		status = "active"
	}

	return domain.Market{
		Venue:            domain.VenueKalshi,
		Instrument:       m.Ticker,
		Title:            m.Title,
		Asset:            asset,
		ResolutionTime:   closeAt.UTC(),
		ResolutionSource: resolutionSource,
		Threshold:        m.FloorStrike,
		YesPrice:         fromCents(m.YesAsk),
		NoPrice:          fromCents(m.NoAsk),
		YesVolume:        float64(m.Volume),
		NoVolume:         float64(m.Volume),
		Status:           status,
		Metadata: map[string]string{
			"event_ticker": m.EventTicker,
			"strike_type":  m.StrikeType,
		},
	}, nil
}

// snapshotFor builds the domain book for one outcome. Kalshi publishes only
// resting bids per outcome; the ask ladder for YES is the complement of the
// NO bid ladder and vice versa.
func snapshotFor(ob Orderbook, outcome domain.Outcome) domain.OrderbookSnapshot {
	var sameSide, oppSide []PriceLevel
	if outcome == domain.OutcomeYes {
		sameSide, oppSide = ob.YesBids, ob.NoBids
	} else {
		sameSide, oppSide = ob.NoBids, ob.YesBids
	}

	bids := make([]domain.PriceLevel, 0, len(sameSide))
	for _, lvl := range sameSide {
		bids = append(bids, domain.PriceLevel{Price: fromCents(lvl.Price), Size: float64(lvl.Quantity)})
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })

	asks := make([]domain.PriceLevel, 0, len(oppSide))
	for _, lvl := range oppSide {
		asks = append(asks, domain.PriceLevel{Price: 1 - fromCents(lvl.Price), Size: float64(lvl.Quantity)})
	}
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	ts := ob.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.OrderbookSnapshot{
		Venue:      domain.VenueKalshi,
		Instrument: ob.Ticker,
		Outcome:    outcome,
		Asks:       asks,
		Bids:       bids,
		UpdatedAt:  ts,
	}
}

// toOrderState normalizes the venue order lifecycle.
func toOrderState(st OrderStatus) domain.OrderState {
	filled := st.FilledCount()
	out := domain.OrderState{
		OrderID:    st.OrderID,
		FilledSize: filled,
		FeePaid:    fromCents(st.TakerFees),
	}
	if st.TakerFillCount > 0 {
		out.AvgPrice = fromCents(st.TakerFillCost) / float64(st.TakerFillCount)
	}

	switch st.Status {
	case "executed":
		out.Status = domain.OrderStatusFilled
	case "canceled":
		out.Status = domain.OrderStatusCanceled
	case "resting":
		if filled > 0 {
			out.Status = domain.OrderStatusPartial
		} else {
			out.Status = domain.OrderStatusResting
		}
	case "pending":
		out.Status = domain.OrderStatusPending
	default:
		out.Status = domain.OrderStatusRejected
	}
	return out
}
