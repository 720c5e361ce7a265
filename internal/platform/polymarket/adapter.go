package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// tokenPair holds the two outcome token IDs for one condition.
type tokenPair struct {
	yes string
	no  string
}

// tokenRef resolves a token ID back to its condition and outcome.
type tokenRef struct {
	instrument string
	outcome    domain.Outcome
}

// Adapter presents Polymarket through the common venue contract. Instruments
// are condition IDs; the adapter keeps the condition-to-token mapping learned
// during catalog fetches so the rest of the engine never sees token IDs.
type Adapter struct {
	gamma  *GammaClient
	clob   *ClobClient
	wsURL  string
	logger *slog.Logger

	mu      sync.RWMutex
	tokens  map[string]tokenPair
	byToken map[string]tokenRef

	ws *WSClient
}

// NewAdapter wires the Gamma and CLOB clients into the venue contract.
func NewAdapter(gamma *GammaClient, clob *ClobClient, wsURL string, logger *slog.Logger) *Adapter {
	return &Adapter{
		gamma:   gamma,
		clob:    clob,
		wsURL:   wsURL,
		logger:  logger.With("component", "polymarket"),
		tokens:  make(map[string]tokenPair),
		byToken: make(map[string]tokenRef),
	}
}

// Venue implements domain.VenueAdapter.
func (a *Adapter) Venue() domain.Venue { return domain.VenuePolymarket }

// FetchCatalog lists open markets for the configured tag. filter.Series
// carries tag IDs as decimal strings.
func (a *Adapter) FetchCatalog(ctx context.Context, filter domain.CatalogFilter) ([]domain.Market, error) {
	if len(filter.Series) == 0 {
		return nil, fmt.Errorf("polymarket: catalog filter needs a tag ID")
	}

	var out []domain.Market
	for _, series := range filter.Series {
		tagID, err := strconv.Atoi(series)
		if err != nil {
			return nil, fmt.Errorf("polymarket: tag ID %q: %w", series, err)
		}
		markets, err := a.gamma.ListMarketsByTag(ctx, tagID, filter.Limit)
		if err != nil {
			return nil, err
		}
		for i := range markets {
			dm, ok := a.registerMarket(markets[i])
			if !ok {
				continue
			}
			out = append(out, dm)
		}
	}
	return out, nil
}

// GetOrderbook fetches the live book for one outcome token.
func (a *Adapter) GetOrderbook(ctx context.Context, instrument string, outcome domain.Outcome) (domain.OrderbookSnapshot, error) {
	tokenID, err := a.tokenFor(instrument, outcome)
	if err != nil {
		return domain.OrderbookSnapshot{}, err
	}

	book, err := a.clob.GetBook(ctx, tokenID)
	if err != nil {
		return domain.OrderbookSnapshot{}, err
	}
	return a.toSnapshot(book, instrument, outcome), nil
}

// GetBalance returns the wallet's available USDC in dollars.
func (a *Adapter) GetBalance(ctx context.Context) (float64, error) {
	return a.clob.GetCollateralBalance(ctx)
}

// PlaceOrder submits a signed GTC limit order.
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	tokenID, err := a.tokenFor(req.Instrument, req.Side.Outcome())
	if err != nil {
		return "", err
	}

	side := "SELL"
	if req.Side.IsBuy() {
		side = "BUY"
	}

	result, err := a.clob.PostLimitOrder(ctx, tokenID, side, req.Price, req.Size)
	if err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// GetOrder implements domain.VenueAdapter.
func (a *Adapter) GetOrder(ctx context.Context, orderID string) (domain.OrderState, error) {
	order, err := a.clob.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderState{}, err
	}
	return toOrderState(order), nil
}

// CancelOrder implements domain.VenueAdapter.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	return a.clob.CancelOrder(ctx, orderID)
}

// SubscribeOrderbooks opens the market channel and delivers each token's
// book snapshot as the matching outcome book.
func (a *Adapter) SubscribeOrderbooks(ctx context.Context, instruments []string, fn domain.BookUpdateFunc) error {
	var assets []string
	for _, instrument := range instruments {
		pair, err := a.pairFor(instrument)
		if err != nil {
			return err
		}
		assets = append(assets, pair.yes, pair.no)
	}

	if a.ws == nil {
		a.ws = NewWSClient(a.wsURL, func(book Book) {
			a.mu.RLock()
			ref, ok := a.byToken[book.AssetID]
			a.mu.RUnlock()
			if !ok {
				return
			}
			fn(a.toSnapshot(book, ref.instrument, ref.outcome))
		}, a.logger)
		if err := a.ws.Connect(ctx); err != nil {
			a.ws = nil
			return err
		}
	}
	return a.ws.Subscribe(ctx, assets)
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

// registerMarket converts a Gamma market and records its token mapping.
// Markets without exactly two outcome tokens are skipped.
func (a *Adapter) registerMarket(m GammaMarket) (domain.Market, bool) {
	tokenIDs := stringArray(m.ClobTokenIDs)
	outcomes := stringArray(m.Outcomes)
	if len(tokenIDs) != 2 || len(outcomes) != 2 || m.ConditionID == "" {
		a.logger.Warn("skipping market without binary token pair", "id", m.ID, "question", m.Question)
		return domain.Market{}, false
	}

	yesIdx := 0
	if isNegativeOutcome(outcomes[0]) && !isNegativeOutcome(outcomes[1]) {
		yesIdx = 1
	}
	noIdx := 1 - yesIdx

	pair := tokenPair{yes: tokenIDs[yesIdx], no: tokenIDs[noIdx]}
	a.mu.Lock()
	a.tokens[m.ConditionID] = pair
	a.byToken[pair.yes] = tokenRef{instrument: m.ConditionID, outcome: domain.OutcomeYes}
	a.byToken[pair.no] = tokenRef{instrument: m.ConditionID, outcome: domain.OutcomeNo}
	a.mu.Unlock()

	var yesPrice, noPrice float64
	if prices := stringArray(m.OutcomePrices); len(prices) == 2 {
		yesPrice, _ = strconv.ParseFloat(prices[yesIdx], 64)
		noPrice, _ = strconv.ParseFloat(prices[noIdx], 64)
	}

	volume, _ := strconv.ParseFloat(m.Volume, 64)

	status := "closed"
	if !m.Closed && bool(m.Active) {
		status = "active"
	}

	dm := domain.Market{
		Venue:      domain.VenuePolymarket,
		Instrument: m.ConditionID,
		Title:      m.Question,
		YesPrice:   yesPrice,
		NoPrice:    noPrice,
		YesVolume:  volume,
		NoVolume:   volume,
		Status:     status,
		Metadata: map[string]string{
			"gamma_id":  m.ID,
			"slug":      m.Slug,
			"yes_token": pair.yes,
			"no_token":  pair.no,
		},
	}

	for _, raw := range []string{m.EndDateISO, m.EndDate} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			dm.ResolutionTime = t.UTC()
			break
		}
	}
	return dm, true
}

// RegisterCatalog restores the condition-to-token mapping from markets this
// adapter produced earlier, for example a catalog served from cache. Markets
// without token metadata are ignored.
func (a *Adapter) RegisterCatalog(markets []domain.Market) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range markets {
		yes := m.Metadata["yes_token"]
		no := m.Metadata["no_token"]
		if m.Instrument == "" || yes == "" || no == "" {
			continue
		}
		a.tokens[m.Instrument] = tokenPair{yes: yes, no: no}
		a.byToken[yes] = tokenRef{instrument: m.Instrument, outcome: domain.OutcomeYes}
		a.byToken[no] = tokenRef{instrument: m.Instrument, outcome: domain.OutcomeNo}
	}
}

// isNegativeOutcome reports whether the outcome label is the losing half of
// the binary ("No" or "Down").
func isNegativeOutcome(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "no", "down":
		return true
	}
	return false
}

func (a *Adapter) pairFor(instrument string) (tokenPair, error) {
	a.mu.RLock()
	pair, ok := a.tokens[instrument]
	a.mu.RUnlock()
	if !ok {
		return tokenPair{}, fmt.Errorf("polymarket: unknown instrument %s: %w", instrument, domain.ErrNotFound)
	}
	return pair, nil
}

func (a *Adapter) tokenFor(instrument string, outcome domain.Outcome) (string, error) {
	pair, err := a.pairFor(instrument)
	if err != nil {
		return "", err
	}
	if outcome == domain.OutcomeYes {
		return pair.yes, nil
	}
	return pair.no, nil
}

// toSnapshot converts a CLOB book. Bids sort best (highest) first, asks best
// (lowest) first.
func (a *Adapter) toSnapshot(book Book, instrument string, outcome domain.Outcome) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		Venue:      domain.VenuePolymarket,
		Instrument: instrument,
		Outcome:    outcome,
		Bids:       toLevels(book.Bids),
		Asks:       toLevels(book.Asks),
		UpdatedAt:  parseBookTimestamp(book.Timestamp),
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}

func toLevels(levels []BookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		p, errP := strconv.ParseFloat(lvl.Price, 64)
		s, errS := strconv.ParseFloat(lvl.Size, 64)
		if errP != nil || errS != nil || s <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// parseBookTimestamp accepts unix millis (the usual shape) or RFC3339.
func parseBookTimestamp(raw string) time.Time {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}

// toOrderState normalizes the CLOB order lifecycle.
func toOrderState(order APIOrder) domain.OrderState {
	matched, _ := strconv.ParseFloat(order.SizeMatched, 64)
	original, _ := strconv.ParseFloat(order.OriginalSize, 64)
	price, _ := strconv.ParseFloat(order.Price, 64)

	out := domain.OrderState{
		OrderID:    order.ID,
		FilledSize: int64(math.Round(matched)),
	}
	if matched > 0 {
		out.AvgPrice = price
	}

	switch order.Status {
	case "matched":
		out.Status = domain.OrderStatusFilled
	case "cancelled", "canceled":
		out.Status = domain.OrderStatusCanceled
	case "live", "open":
		if matched > 0 && matched < original {
			out.Status = domain.OrderStatusPartial
		} else if matched >= original && original > 0 {
			out.Status = domain.OrderStatusFilled
		} else {
			out.Status = domain.OrderStatusResting
		}
	case "delayed", "pending":
		out.Status = domain.OrderStatusPending
	default:
		out.Status = domain.OrderStatusRejected
	}
	return out
}
