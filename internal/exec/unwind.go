package exec

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/arb"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/risk"
)

// aggressiveFloor is the sweep limit for an unwanted position: sell back the
// held outcome accepting as little as one cent per contract.
const aggressiveFloor = 0.01

// Planner neutralizes the imbalance left by a partially failed two-leg
// placement. It evaluates cancel, same-venue hedge, and aggressive exit from
// live books and takes the cheapest feasible path.
type Planner struct {
	adapters map[domain.Venue]domain.VenueAdapter
	fees     map[domain.Venue]arb.FeeModel
	risk     *risk.Manager
	journal  Journal
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func newPlanner(
	kalshi, poly domain.VenueAdapter,
	feeK, feeP arb.FeeModel,
	riskMgr *risk.Manager,
	journal Journal,
	timeout time.Duration,
	logger *slog.Logger,
) *Planner {
	return &Planner{
		adapters: map[domain.Venue]domain.VenueAdapter{
			domain.VenueKalshi:     kalshi,
			domain.VenuePolymarket: poly,
		},
		fees: map[domain.Venue]arb.FeeModel{
			domain.VenueKalshi:     feeK,
			domain.VenuePolymarket: feeP,
		},
		risk:    riskMgr,
		journal: journal,
		timeout: timeout,
		logger:  logger.With("component", "unwind"),
		now:     time.Now,
	}
}

// Unwind restores the trade's net exposure to zero. It mutates the trade's
// leg states to reflect cancels and updates realized pnl for the chosen
// neutralization cost. When no path is feasible the kill switch fires.
func (p *Planner) Unwind(ctx context.Context, trade *domain.Trade) error {
	cancelCost := math.Inf(1)

	// First, take down anything still live on the venue. A successful
	// cancel is free; a cancel that loses the race may reveal more fills.
	for _, leg := range []*domain.TradeLeg{&trade.KalshiLeg, &trade.PolyLeg} {
		if leg.OrderID == "" || leg.Status.Terminal() {
			continue
		}
		if p.cancelLeg(ctx, leg) {
			cancelCost = 0
		}
	}

	// Cross-venue netting: min(filled, filled) is already hedged by the
	// opposing leg. Only the excess on one side needs neutralizing.
	kFilled, pFilled := trade.KalshiLeg.FilledSize, trade.PolyLeg.FilledSize
	var residual *domain.TradeLeg
	var quantity int64
	switch {
	case kFilled > pFilled:
		residual, quantity = &trade.KalshiLeg, kFilled-pFilled
	case pFilled > kFilled:
		residual, quantity = &trade.PolyLeg, pFilled-kFilled
	}

	if residual == nil || quantity == 0 {
		// Symmetric (possibly zero) fills. Nothing to neutralize.
		rep := domain.UnwindReport{
			ID:             uuid.NewString(),
			TradeID:        trade.ID,
			CancelCost:     cancelCost,
			HedgeCost:      math.Inf(1),
			AggressiveCost: math.Inf(1),
			Action:         domain.UnwindCancel,
			ChosenCost:     0,
			CreatedAt:      p.now(),
		}
		if math.IsInf(cancelCost, 1) {
			rep.Action = domain.UnwindNone
		}
		p.journal.Unwind(rep)
		p.logger.Info("unwind complete, fills symmetric", "trade_id", trade.ID)
		return nil
	}

	return p.neutralize(ctx, trade, residual, quantity, cancelCost)
}

// neutralize prices the hedge and aggressive candidates from live books and
// executes the cheaper feasible one for the residual position.
func (p *Planner) neutralize(ctx context.Context, trade *domain.Trade, leg *domain.TradeLeg, quantity int64, cancelCost float64) error {
	adapter := p.adapters[leg.Venue]
	fees := p.fees[leg.Venue]
	held := leg.Side.Outcome()

	hedgeCost := math.Inf(1)
	var hedgePrice float64
	if snap, err := p.fetchBook(ctx, adapter, leg.Instrument, held.Opposite()); err == nil {
		if ask, ok := snap.BestAsk(); ok && ask.Size >= float64(quantity) {
			hedgePrice = ask.Price
			hedgeCost = hedgePrice*float64(quantity) + fees.FeeFor(hedgePrice, quantity)
		}
	} else {
		p.logger.Warn("hedge book fetch failed", "instrument", leg.Instrument, "error", err)
	}

	aggrCost := math.Inf(1)
	if snap, err := p.fetchBook(ctx, adapter, leg.Instrument, held); err == nil {
		if _, ok := snap.BestBid(); ok {
			aggrCost = aggressiveFloor*float64(quantity) + fees.FeeFor(aggressiveFloor, quantity)
		}
	} else {
		p.logger.Warn("exit book fetch failed", "instrument", leg.Instrument, "error", err)
	}

	rep := domain.UnwindReport{
		ID:             uuid.NewString(),
		TradeID:        trade.ID,
		Venue:          leg.Venue,
		Instrument:     leg.Instrument,
		Outcome:        held,
		Quantity:       quantity,
		CancelCost:     cancelCost,
		HedgeCost:      hedgeCost,
		AggressiveCost: aggrCost,
		CreatedAt:      p.now(),
	}

	if math.IsInf(hedgeCost, 1) && math.IsInf(aggrCost, 1) {
		rep.Action = domain.UnwindNone
		rep.ChosenCost = math.Inf(1)
		p.journal.Unwind(rep)
		p.risk.TriggerKillSwitch(fmt.Sprintf(
			"unwind infeasible: %d residual %s on %s, no hedge or exit liquidity",
			quantity, string(held), string(leg.Venue)))
		return fmt.Errorf("exec: no feasible unwind for %d contracts on %s: %w",
			quantity, leg.Venue, domain.ErrUnwindFailed)
	}

	var req domain.OrderRequest
	if hedgeCost <= aggrCost {
		rep.Action = domain.UnwindHedge
		rep.ChosenCost = hedgeCost
		req = domain.OrderRequest{
			Instrument: leg.Instrument,
			Side:       buySideFor(held.Opposite()),
			Size:       quantity,
			Price:      hedgePrice,
		}
	} else {
		rep.Action = domain.UnwindAggressive
		rep.ChosenCost = aggrCost
		req = domain.OrderRequest{
			Instrument: leg.Instrument,
			Side:       sellSideFor(held),
			Size:       quantity,
			Price:      aggressiveFloor,
		}
	}

	octx, cancel := context.WithTimeout(ctx, p.timeout)
	orderID, err := adapter.PlaceOrder(octx, req)
	cancel()
	if err != nil {
		rep.Action = domain.UnwindNone
		rep.ChosenCost = math.Inf(1)
		p.journal.Unwind(rep)
		p.risk.TriggerKillSwitch(fmt.Sprintf("unwind order rejected on %s: %v", leg.Venue, err))
		return fmt.Errorf("exec: unwind placement on %s: %w", leg.Venue, domain.ErrUnwindFailed)
	}
	rep.OrderID = orderID
	p.journal.Unwind(rep)

	// The residual's entry cost is no longer committed exposure; the
	// neutralization cost is a realized loss.
	p.risk.UpdatePnL(-rep.ChosenCost)
	p.logger.Info("unwind executed",
		"trade_id", trade.ID,
		"action", string(rep.Action),
		"quantity", quantity,
		"cost", rep.ChosenCost,
		"order_id", orderID)
	return nil
}

// cancelLeg attempts to take down a live order and refreshes the leg's fill
// state afterwards. Returns true when the cancel was accepted.
func (p *Planner) cancelLeg(ctx context.Context, leg *domain.TradeLeg) bool {
	adapter := p.adapters[leg.Venue]

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := adapter.CancelOrder(cctx, leg.OrderID)
	cancel()

	// Whether or not the cancel landed, re-read the order: it may have
	// filled during the race.
	sctx, cancel2 := context.WithTimeout(ctx, p.timeout)
	st, gerr := adapter.GetOrder(sctx, leg.OrderID)
	cancel2()
	if gerr == nil {
		leg.Status = st.Status
		leg.FilledSize = st.FilledSize
		if st.AvgPrice > 0 {
			leg.Cost = st.AvgPrice * float64(st.FilledSize)
		} else {
			leg.Cost = leg.Price * float64(st.FilledSize)
		}
		leg.Fee = p.fees[leg.Venue].FeeFor(leg.Price, st.FilledSize)
	} else if err == nil {
		leg.Status = domain.OrderStatusCanceled
	}

	if err != nil {
		p.logger.Warn("cancel refused", "order_id", leg.OrderID, "error", err)
		return false
	}
	p.logger.Info("leg canceled", "order_id", leg.OrderID, "filled", leg.FilledSize)
	return true
}

func (p *Planner) fetchBook(ctx context.Context, adapter domain.VenueAdapter, instrument string, outcome domain.Outcome) (domain.OrderbookSnapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return adapter.GetOrderbook(fctx, instrument, outcome)
}

func buySideFor(o domain.Outcome) domain.Side {
	if o == domain.OutcomeYes {
		return domain.SideBuyYes
	}
	return domain.SideBuyNo
}

func sellSideFor(o domain.Outcome) domain.Side {
	if o == domain.OutcomeYes {
		return domain.SideSellYes
	}
	return domain.SideSellNo
}
