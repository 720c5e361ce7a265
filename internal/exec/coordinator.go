// Package exec turns a detected opportunity into a recorded trade or a
// bounded-cost abort. The coordinator never leaves an undetected one-sided
// position: any post-placement imbalance is handed to the unwind planner.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/arb"
	"github.com/alanyoungcy/crossarb/internal/books"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/risk"
)

// Journal is the coordinator's append-only persistence port. Implementations
// must not block the hot path.
type Journal interface {
	Trade(t domain.Trade)
	Opportunity(rec domain.OpportunityRecord)
	Unwind(rep domain.UnwindReport)
}

// Options tunes the execution protocol.
type Options struct {
	OrderbookTTL       time.Duration
	OpportunityMaxAge  time.Duration
	FillSchedule       []time.Duration
	FillBudget         time.Duration
	VenueTimeout       time.Duration
	BalanceReuseWindow time.Duration
	MaxRiskPerTrade    float64
	MinNotionalPoly    float64
}

func (o *Options) fillDefaults() {
	if o.OrderbookTTL <= 0 {
		o.OrderbookTTL = 500 * time.Millisecond
	}
	if o.OpportunityMaxAge <= 0 {
		o.OpportunityMaxAge = 500 * time.Millisecond
	}
	if len(o.FillSchedule) == 0 {
		for _, ms := range []int{100, 200, 300, 500, 1000, 1000, 2000, 2000, 3000, 3000} {
			o.FillSchedule = append(o.FillSchedule, time.Duration(ms)*time.Millisecond)
		}
	}
	if o.FillBudget <= 0 {
		o.FillBudget = 10 * time.Second
	}
	if o.VenueTimeout <= 0 {
		o.VenueTimeout = 5 * time.Second
	}
	if o.BalanceReuseWindow <= 0 {
		o.BalanceReuseWindow = 10 * time.Second
	}
	if o.MinNotionalPoly <= 0 {
		o.MinNotionalPoly = 1.0
	}
}

// Coordinator executes opportunities against both venues.
type Coordinator struct {
	kalshi domain.VenueAdapter
	poly   domain.VenueAdapter
	books  *books.Cache
	risk   *risk.Manager
	feeK   arb.FeeModel
	feeP   arb.FeeModel

	unwinder *Planner
	journal  Journal
	logger   *slog.Logger
	opts     Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator wires a Coordinator and its unwind planner.
func NewCoordinator(
	kalshi, poly domain.VenueAdapter,
	bookCache *books.Cache,
	riskMgr *risk.Manager,
	feeK, feeP arb.FeeModel,
	journal Journal,
	opts Options,
	logger *slog.Logger,
) *Coordinator {
	opts.fillDefaults()
	c := &Coordinator{
		kalshi:  kalshi,
		poly:    poly,
		books:   bookCache,
		risk:    riskMgr,
		feeK:    feeK,
		feeP:    feeP,
		journal: journal,
		logger:  logger.With("component", "coordinator"),
		opts:    opts,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	c.unwinder = newPlanner(kalshi, poly, feeK, feeP, riskMgr, journal, opts.VenueTimeout, logger)
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs the full placement protocol for one opportunity. Aborts before
// placement incur zero venue cost; aborts after placement always resolve to a
// recorded terminal state (filled, unwound, or hedged).
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity) (*domain.Trade, error) {
	log := c.logger.With("opportunity_id", opp.ID, "pair_key", opp.PairKey, "strategy", string(opp.Strategy))

	// Step 1: staleness gate on the opportunity itself.
	if age := opp.Age(c.now()); age > c.opts.OpportunityMaxAge {
		c.reject(opp, fmt.Sprintf("opportunity expired (age %s)", age))
		return nil, fmt.Errorf("exec: opportunity %s aged %s: %w", opp.ID, age, domain.ErrExpired)
	}

	kLeg, pLeg := opp.Legs()
	kKey := books.Key{Venue: kLeg.Venue, Instrument: kLeg.Instrument, Outcome: kLeg.Side.Outcome()}
	pKey := books.Key{Venue: pLeg.Venue, Instrument: pLeg.Instrument, Outcome: pLeg.Side.Outcome()}

	// Step 2: fresh books from the cache; on any staleness refetch both
	// books (and balance, unless recently synced) in one bounded fan-out.
	kBook, kFresh := c.books.Fresh(kKey)
	pBook, pFresh := c.books.Fresh(pKey)
	if !kFresh || !pFresh {
		var err error
		kBook, pBook, err = c.refetch(ctx, kLeg, pLeg)
		if err != nil {
			c.reject(opp, "stale book refetch failed: "+err.Error())
			return nil, fmt.Errorf("exec: refetch books: %w", err)
		}
	}

	kAsk, kOK := kBook.BestAsk()
	pAsk, pOK := pBook.BestAsk()
	if !kOK || !pOK {
		c.reject(opp, "stale+empty")
		return nil, fmt.Errorf("exec: empty asks after refetch: %w", domain.ErrEmptyBook)
	}

	// Step 3: sizing from the risk budget and both observed prices.
	bankroll := c.risk.Bankroll()
	totalPrice := kLeg.Price + pLeg.Price
	size := int64(math.Floor(c.opts.MaxRiskPerTrade * bankroll / totalPrice))
	if size < 1 {
		c.reject(opp, "size below one contract")
		return nil, fmt.Errorf("exec: risk budget sizes below one contract: %w", domain.ErrRiskRejected)
	}

	// Venue notional floor: Polymarket rejects orders under a dollar. If
	// meeting the floor pushes the trade past the per-trade cap, abort.
	if float64(size)*pLeg.Price < c.opts.MinNotionalPoly {
		size = int64(math.Ceil(c.opts.MinNotionalPoly / pLeg.Price))
		if float64(size)*totalPrice > c.opts.MaxRiskPerTrade*bankroll {
			c.reject(opp, "notional floor exceeds per-trade risk cap")
			return nil, fmt.Errorf("exec: notional floor breaches risk cap: %w", domain.ErrRiskRejected)
		}
	}

	// Step 4: strict liquidity. Best ask must still be at (or inside) the
	// target price with size for the whole trade on both legs. No fallback
	// to deeper levels.
	if kAsk.Price > kLeg.Price || kAsk.Size < float64(size) {
		c.reject(opp, "insufficient kalshi liquidity at target")
		return nil, fmt.Errorf("exec: kalshi ask %.4f x %.0f vs target %.4f x %d: %w",
			kAsk.Price, kAsk.Size, kLeg.Price, size, domain.ErrNoLiquidity)
	}
	if pAsk.Price > pLeg.Price || pAsk.Size < float64(size) {
		c.reject(opp, "insufficient polymarket liquidity at target")
		return nil, fmt.Errorf("exec: polymarket ask %.4f x %.0f vs target %.4f x %d: %w",
			pAsk.Price, pAsk.Size, pLeg.Price, size, domain.ErrNoLiquidity)
	}

	// Step 5: risk gate on full cost including estimated taker fees.
	fees := c.feeK.FeeFor(kLeg.Price, size) + c.feeP.FeeFor(pLeg.Price, size)
	totalCost := float64(size)*totalPrice + fees
	if err := c.risk.CanExecute(totalCost); err != nil {
		c.reject(opp, "risk gate: "+err.Error())
		return nil, fmt.Errorf("exec: risk gate: %w", err)
	}

	// Step 6: both snapshots must still be within TTL at the moment of
	// placement. The gate above may have taken time.
	nowT := c.now()
	if kBook.AgeMillis(nowT) > c.opts.OrderbookTTL.Milliseconds() ||
		pBook.AgeMillis(nowT) > c.opts.OrderbookTTL.Milliseconds() {
		c.reject(opp, "book aged past TTL before placement")
		return nil, fmt.Errorf("exec: book aged out pre-placement: %w", domain.ErrStaleBook)
	}

	log.Info("placing both legs",
		"size", size,
		"kalshi_price", kLeg.Price,
		"poly_price", pLeg.Price,
		"total_cost", totalCost)

	kState, pState := c.placeBoth(ctx, kLeg, pLeg, size)

	// Both legs cleanly refused: zero venue cost, clean abort. An order
	// rejected for balance is grounds for an immediate resync.
	if kState.placeErr != nil && pState.placeErr != nil {
		c.reject(opp, "both legs rejected")
		go func() { _ = c.risk.SyncBalance(context.Background()) }()
		return nil, fmt.Errorf("exec: both legs rejected (kalshi: %v, polymarket: %v): %w",
			kState.placeErr, pState.placeErr, domain.ErrVenueRejected)
	}

	// Step 7: bounded fill monitoring for whichever legs placed.
	c.monitorFills(ctx, &kState, &pState)

	kTrade := kState.toTradeLeg(kLeg, c.feeK)
	pTrade := pState.toTradeLeg(pLeg, c.feeP)

	trade := &domain.Trade{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		PairKey:       opp.PairKey,
		Strategy:      opp.Strategy,
		Size:          size,
		KalshiLeg:     kTrade,
		PolyLeg:       pTrade,
		TotalCost:     kTrade.Cost + kTrade.Fee + pTrade.Cost + pTrade.Fee,
		ExpectedNet:   opp.NetProfit,
		ExecutedAt:    c.now(),
	}

	// Step 8/9: both filled at target size closes the happy path.
	if trade.Balanced() {
		c.risk.RegisterTrade(trade.TotalCost)
		c.journal.Trade(*trade)
		c.journal.Opportunity(domain.OpportunityRecord{Opportunity: opp, Decision: domain.DecisionExecuted})
		log.Info("trade executed",
			"trade_id", trade.ID,
			"size", size,
			"total_cost", trade.TotalCost,
			"expected_net", trade.ExpectedNet)
		return trade, nil
	}

	// Step 10: imbalance. Delegate to the unwind planner.
	log.Warn("imbalanced fill, unwinding",
		"kalshi_status", string(kTrade.Status), "kalshi_filled", kTrade.FilledSize,
		"poly_status", string(pTrade.Status), "poly_filled", pTrade.FilledSize)

	trade.Unwound = true
	err := c.unwinder.Unwind(ctx, trade)
	c.journal.Trade(*trade)
	c.journal.Opportunity(domain.OpportunityRecord{
		Opportunity: opp,
		Decision:    domain.DecisionAborted,
		Reason:      "imbalanced fill",
	})
	if err != nil {
		return trade, fmt.Errorf("exec: unwind: %w", err)
	}
	return trade, nil
}

// legState tracks one leg through placement and monitoring.
type legState struct {
	adapter  domain.VenueAdapter
	orderID  string
	placeErr error
	state    domain.OrderState
}

func (l *legState) terminal() bool {
	return l.placeErr != nil || l.state.Status.Terminal()
}

func (l *legState) toTradeLeg(leg domain.Leg, fee arb.FeeModel) domain.TradeLeg {
	tl := domain.TradeLeg{
		Venue:      leg.Venue,
		OrderID:    l.orderID,
		Instrument: leg.Instrument,
		Side:       leg.Side,
		Price:      leg.Price,
		Status:     domain.OrderStatusRejected,
	}
	if l.placeErr == nil {
		tl.Status = l.state.Status
		tl.FilledSize = l.state.FilledSize
		price := l.state.AvgPrice
		if price == 0 {
			price = leg.Price
		}
		tl.Cost = price * float64(l.state.FilledSize)
		tl.Fee = fee.FeeFor(price, l.state.FilledSize)
	}
	return tl
}

// placeBoth submits the two legs concurrently at the exact observed target
// prices and waits for both venue acknowledgements.
func (c *Coordinator) placeBoth(ctx context.Context, kLeg, pLeg domain.Leg, size int64) (legState, legState) {
	kState := legState{adapter: c.kalshi}
	pState := legState{adapter: c.poly}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, c.opts.VenueTimeout)
		defer cancel()
		id, err := c.kalshi.PlaceOrder(cctx, domain.OrderRequest{
			Instrument: kLeg.Instrument, Side: kLeg.Side, Size: size, Price: kLeg.Price,
		})
		kState.orderID, kState.placeErr = id, err
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, c.opts.VenueTimeout)
		defer cancel()
		id, err := c.poly.PlaceOrder(cctx, domain.OrderRequest{
			Instrument: pLeg.Instrument, Side: pLeg.Side, Size: size, Price: pLeg.Price,
		})
		pState.orderID, pState.placeErr = id, err
		return nil
	})
	_ = g.Wait()

	if kState.placeErr != nil {
		c.logger.Warn("kalshi leg rejected", "error", kState.placeErr)
	}
	if pState.placeErr != nil {
		c.logger.Warn("polymarket leg rejected", "error", pState.placeErr)
	}
	return kState, pState
}

// monitorFills polls both orders on the backoff schedule, checking fills
// before each sleep and again immediately after each poll, within the total
// budget.
func (c *Coordinator) monitorFills(ctx context.Context, legs ...*legState) {
	deadline := c.now().Add(c.opts.FillBudget)

	c.pollLegs(ctx, legs)
	for _, d := range c.opts.FillSchedule {
		if c.allTerminal(legs) {
			return
		}
		if c.now().Add(d).After(deadline) {
			break
		}
		if err := c.sleep(ctx, d); err != nil {
			return
		}
		c.pollLegs(ctx, legs)
	}
}

func (c *Coordinator) allTerminal(legs []*legState) bool {
	for _, l := range legs {
		if !l.terminal() {
			return false
		}
	}
	return true
}

func (c *Coordinator) pollLegs(ctx context.Context, legs []*legState) {
	for _, l := range legs {
		if l.placeErr != nil || l.state.Status == domain.OrderStatusFilled {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, c.opts.VenueTimeout)
		st, err := l.adapter.GetOrder(cctx, l.orderID)
		cancel()
		if err != nil {
			c.logger.Warn("order poll failed", "order_id", l.orderID, "error", err)
			continue
		}
		l.state = st
	}
}

// refetch pulls both leg books (and the venue-of-record balance when the last
// authoritative sync is older than the reuse window) in a single bounded
// fan-out, writing fetched books back into the cache.
func (c *Coordinator) refetch(ctx context.Context, kLeg, pLeg domain.Leg) (domain.OrderbookSnapshot, domain.OrderbookSnapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, c.opts.VenueTimeout)
	defer cancel()

	var kBook, pBook domain.OrderbookSnapshot
	g, gctx := errgroup.WithContext(fctx)
	g.Go(func() error {
		snap, err := c.kalshi.GetOrderbook(gctx, kLeg.Instrument, kLeg.Side.Outcome())
		if err != nil {
			return fmt.Errorf("kalshi book: %w", err)
		}
		kBook = snap
		return nil
	})
	g.Go(func() error {
		snap, err := c.poly.GetOrderbook(gctx, pLeg.Instrument, pLeg.Side.Outcome())
		if err != nil {
			return fmt.Errorf("polymarket book: %w", err)
		}
		pBook = snap
		return nil
	})
	if c.now().Sub(c.risk.LastSyncAt()) > c.opts.BalanceReuseWindow {
		g.Go(func() error {
			// Balance staleness must not fail the refetch; the risk
			// manager keeps its previous value on error.
			_ = c.risk.SyncBalance(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.OrderbookSnapshot{}, domain.OrderbookSnapshot{}, err
	}

	if kBook.UpdatedAt.IsZero() {
		kBook.UpdatedAt = c.now()
	}
	if pBook.UpdatedAt.IsZero() {
		pBook.UpdatedAt = c.now()
	}
	c.books.Put(kBook)
	c.books.Put(pBook)
	return kBook, pBook, nil
}

func (c *Coordinator) reject(opp domain.Opportunity, reason string) {
	c.logger.Info("opportunity rejected", "opportunity_id", opp.ID, "reason", reason)
	c.journal.Opportunity(domain.OpportunityRecord{
		Opportunity: opp,
		Decision:    domain.DecisionRejected,
		Reason:      reason,
	})
}

// IsAbort reports whether err is one of the clean pre-placement abort kinds.
func IsAbort(err error) bool {
	return errors.Is(err, domain.ErrExpired) ||
		errors.Is(err, domain.ErrStaleBook) ||
		errors.Is(err, domain.ErrEmptyBook) ||
		errors.Is(err, domain.ErrNoLiquidity) ||
		errors.Is(err, domain.ErrRiskRejected) ||
		errors.Is(err, domain.ErrKillSwitch) ||
		errors.Is(err, domain.ErrVenueRejected)
}
