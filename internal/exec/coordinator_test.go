package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/arb"
	"github.com/alanyoungcy/crossarb/internal/books"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/risk"
)

// fakeVenue is a scriptable in-memory VenueAdapter.
type fakeVenue struct {
	venue domain.Venue

	mu        sync.Mutex
	balance   float64
	books     map[string]domain.OrderbookSnapshot // instrument|outcome
	orders    map[string]domain.OrderState
	placed    []domain.OrderRequest
	canceled  []string
	nextID    int
	placeFn   func(req domain.OrderRequest) (domain.OrderState, error)
	cancelErr error
	bookErr   error
}

func newFakeVenue(v domain.Venue, balance float64) *fakeVenue {
	return &fakeVenue{
		venue:   v,
		balance: balance,
		books:   make(map[string]domain.OrderbookSnapshot),
		orders:  make(map[string]domain.OrderState),
	}
}

func bookKey(instrument string, outcome domain.Outcome) string {
	return instrument + "|" + string(outcome)
}

func (f *fakeVenue) setBook(instrument string, outcome domain.Outcome, asks, bids []domain.PriceLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[bookKey(instrument, outcome)] = domain.OrderbookSnapshot{
		Venue:      f.venue,
		Instrument: instrument,
		Outcome:    outcome,
		Asks:       asks,
		Bids:       bids,
		UpdatedAt:  time.Now(),
	}
}

func (f *fakeVenue) Venue() domain.Venue { return f.venue }

func (f *fakeVenue) FetchCatalog(ctx context.Context, filter domain.CatalogFilter) ([]domain.Market, error) {
	return nil, nil
}

func (f *fakeVenue) GetOrderbook(ctx context.Context, instrument string, outcome domain.Outcome) (domain.OrderbookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return domain.OrderbookSnapshot{}, f.bookErr
	}
	snap, ok := f.books[bookKey(instrument, outcome)]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	snap.UpdatedAt = time.Now()
	return snap, nil
}

func (f *fakeVenue) GetBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	var state domain.OrderState
	var err error
	if f.placeFn != nil {
		state, err = f.placeFn(req)
	} else {
		state = domain.OrderState{Status: domain.OrderStatusFilled, FilledSize: req.Size, AvgPrice: req.Price}
	}
	if err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("%s-%d", f.venue, f.nextID)
	state.OrderID = id
	f.orders[id] = state
	return id, nil
}

func (f *fakeVenue) GetOrder(ctx context.Context, orderID string) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.orders[orderID]
	if !ok {
		return domain.OrderState{}, domain.ErrNotFound
	}
	return st, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	st, ok := f.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if !st.Status.Terminal() {
		st.Status = domain.OrderStatusCanceled
		f.orders[orderID] = st
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeVenue) SubscribeOrderbooks(ctx context.Context, instruments []string, fn domain.BookUpdateFunc) error {
	return nil
}

func (f *fakeVenue) Close() error { return nil }

// memJournal records everything synchronously.
type memJournal struct {
	mu      sync.Mutex
	trades  []domain.Trade
	opps    []domain.OpportunityRecord
	unwinds []domain.UnwindReport
}

func (j *memJournal) Trade(t domain.Trade) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
}

func (j *memJournal) Opportunity(rec domain.OpportunityRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.opps = append(j.opps, rec)
}

func (j *memJournal) Unwind(rep domain.UnwindReport) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.unwinds = append(j.unwinds, rep)
}

func (j *memJournal) lastOpp() domain.OpportunityRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.opps[len(j.opps)-1]
}

const (
	kInstr = "KXBTC15M-26AUG241215"
	pInstr = "0xdeadbeef"
)

var (
	feeK = arb.FeeModel{Rate: 0.01}
	feeP = arb.FeeModel{PerUnit: 0.001}
)

type fixture struct {
	kalshi  *fakeVenue
	poly    *fakeVenue
	cache   *books.Cache
	risk    *risk.Manager
	journal *memJournal
	coord   *Coordinator
}

func newFixture(t *testing.T, bankroll float64, opts Options) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kalshi := newFakeVenue(domain.VenueKalshi, bankroll)
	poly := newFakeVenue(domain.VenuePolymarket, bankroll)
	cache := books.New(500 * time.Millisecond)
	riskMgr := risk.New(risk.Limits{
		MaxRiskPerTrade: 0.10,
		MaxDailyLoss:    0.20,
		MaxNetExposure:  0.50,
	}, kalshi, logger)
	require.NoError(t, riskMgr.Init(context.Background()))
	journal := &memJournal{}

	if opts.MaxRiskPerTrade == 0 {
		opts.MaxRiskPerTrade = 0.10
	}
	coord := NewCoordinator(kalshi, poly, cache, riskMgr, feeK, feeP, journal, opts, logger)
	coord.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return &fixture{kalshi: kalshi, poly: poly, cache: cache, risk: riskMgr, journal: journal, coord: coord}
}

// opportunity builds the S2 shape used across tests: NO on Kalshi at 0.55,
// YES on Polymarket at 0.36.
func opportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:       "opp-1",
		PairKey:  "BTC:1787659200",
		Strategy: domain.StrategyNoKalshiYesPoly,
		KalshiLeg: domain.Leg{
			Venue: domain.VenueKalshi, Instrument: kInstr, Side: domain.SideBuyNo, Price: 0.55,
		},
		PolyLeg: domain.Leg{
			Venue: domain.VenuePolymarket, Instrument: pInstr, Side: domain.SideBuyYes, Price: 0.36,
		},
		GrossCost:  0.91,
		Fees:       0.0065,
		NetProfit:  0.0835,
		DetectedAt: time.Now(),
	}
}

func (fx *fixture) primeBooks(size float64) {
	fx.kalshi.setBook(kInstr, domain.OutcomeNo, []domain.PriceLevel{{Price: 0.55, Size: size}}, nil)
	fx.poly.setBook(pInstr, domain.OutcomeYes, []domain.PriceLevel{{Price: 0.36, Size: size}}, nil)
	snapK, _ := fx.kalshi.GetOrderbook(context.Background(), kInstr, domain.OutcomeNo)
	snapP, _ := fx.poly.GetOrderbook(context.Background(), pInstr, domain.OutcomeYes)
	fx.cache.Put(snapK)
	fx.cache.Put(snapP)
}

func TestExecuteCleanFill(t *testing.T) {
	fx := newFixture(t, 10, Options{MinNotionalPoly: 0.25})
	fx.primeBooks(10)

	trade, err := fx.coord.Execute(context.Background(), opportunity())
	require.NoError(t, err)
	require.NotNil(t, trade)

	// Budget 0.10*10 over total price 0.91 sizes exactly one contract.
	assert.Equal(t, int64(1), trade.Size)
	assert.True(t, trade.Balanced())
	assert.False(t, trade.Unwound)
	assert.InDelta(t, 0.9165, trade.TotalCost, 1e-9)

	// Exposure was committed for the full cost including fees.
	assert.InDelta(t, 0.9165, fx.risk.Snapshot().Exposure, 1e-9)

	require.Len(t, fx.journal.trades, 1)
	assert.Equal(t, domain.DecisionExecuted, fx.journal.lastOpp().Decision)

	// Both venues saw exactly one order at the exact observed prices.
	require.Len(t, fx.kalshi.placed, 1)
	require.Len(t, fx.poly.placed, 1)
	assert.Equal(t, 0.55, fx.kalshi.placed[0].Price)
	assert.Equal(t, 0.36, fx.poly.placed[0].Price)
}

func TestExecuteExpiredOpportunity(t *testing.T) {
	fx := newFixture(t, 10, Options{})
	fx.primeBooks(10)

	opp := opportunity()
	opp.DetectedAt = time.Now().Add(-time.Second)

	_, err := fx.coord.Execute(context.Background(), opp)
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Empty(t, fx.kalshi.placed)
	assert.Empty(t, fx.poly.placed)
	assert.Equal(t, domain.DecisionRejected, fx.journal.lastOpp().Decision)
}

func TestExecuteStaleEmptyAbort(t *testing.T) {
	fx := newFixture(t, 10, Options{MinNotionalPoly: 0.25})

	// Nothing in the cache forces the refetch path; the venue then serves
	// a book with no asks.
	fx.kalshi.setBook(kInstr, domain.OutcomeNo, nil, []domain.PriceLevel{{Price: 0.50, Size: 5}})
	fx.poly.setBook(pInstr, domain.OutcomeYes, []domain.PriceLevel{{Price: 0.36, Size: 10}}, nil)

	_, err := fx.coord.Execute(context.Background(), opportunity())
	assert.ErrorIs(t, err, domain.ErrEmptyBook)
	assert.Empty(t, fx.kalshi.placed)
	assert.Empty(t, fx.poly.placed)
	assert.Equal(t, "stale+empty", fx.journal.lastOpp().Reason)
}

func TestExecuteLiquidityAbort(t *testing.T) {
	fx := newFixture(t, 10, Options{MinNotionalPoly: 0.25})
	fx.primeBooks(10)

	// Kalshi's displayed depth collapses below the trade size.
	fx.kalshi.setBook(kInstr, domain.OutcomeNo, []domain.PriceLevel{{Price: 0.55, Size: 0.5}}, nil)
	snapK, _ := fx.kalshi.GetOrderbook(context.Background(), kInstr, domain.OutcomeNo)
	fx.cache.Put(snapK)

	_, err := fx.coord.Execute(context.Background(), opportunity())
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)
	assert.Empty(t, fx.kalshi.placed)
	assert.Empty(t, fx.poly.placed)
}

func TestExecuteKillSwitchBlocksPlacement(t *testing.T) {
	fx := newFixture(t, 10, Options{MinNotionalPoly: 0.25})
	fx.primeBooks(10)

	fx.risk.TriggerKillSwitch("test")
	_, err := fx.coord.Execute(context.Background(), opportunity())
	assert.ErrorIs(t, err, domain.ErrKillSwitch)
	assert.Empty(t, fx.kalshi.placed)
	assert.Empty(t, fx.poly.placed)
}

func TestExecuteBookAgedOutBeforePlacement(t *testing.T) {
	fx := newFixture(t, 10, Options{MinNotionalPoly: 0.25})
	fx.primeBooks(10)

	// The cache read passes, then every later clock read lands past the
	// book TTL, as if the risk gate had stalled.
	late := time.Now().Add(600 * time.Millisecond)
	fx.coord.now = func() time.Time { return late }

	opp := opportunity()
	opp.DetectedAt = late

	_, err := fx.coord.Execute(context.Background(), opp)
	assert.ErrorIs(t, err, domain.ErrStaleBook)
	assert.Empty(t, fx.kalshi.placed)
	assert.Empty(t, fx.poly.placed)
	assert.Equal(t, "book aged past TTL before placement", fx.journal.lastOpp().Reason)
}

func TestExecuteNotionalFloorAbort(t *testing.T) {
	// Risk budget sizes one contract, but the venue floor forces three,
	// which breaches the per-trade cap. Abort before any placement.
	fx := newFixture(t, 10, Options{MinNotionalPoly: 1.0})
	fx.primeBooks(10)

	_, err := fx.coord.Execute(context.Background(), opportunity())
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
	assert.Empty(t, fx.kalshi.placed)
	assert.Empty(t, fx.poly.placed)
	assert.Equal(t, "notional floor exceeds per-trade risk cap", fx.journal.lastOpp().Reason)
}

func TestExecuteBothLegsRejected(t *testing.T) {
	fx := newFixture(t, 10, Options{MinNotionalPoly: 0.25})
	fx.primeBooks(10)

	venueDown := errors.New("insufficient balance")
	fx.kalshi.placeFn = func(domain.OrderRequest) (domain.OrderState, error) {
		return domain.OrderState{}, venueDown
	}
	fx.poly.placeFn = func(domain.OrderRequest) (domain.OrderState, error) {
		return domain.OrderState{}, venueDown
	}

	_, err := fx.coord.Execute(context.Background(), opportunity())
	assert.ErrorIs(t, err, domain.ErrVenueRejected)
	assert.Empty(t, fx.journal.trades)
	assert.Zero(t, fx.risk.Snapshot().Exposure)
}

func TestExecutePartialFillCancelThenHedge(t *testing.T) {
	// Kalshi fills 5 of 10 and rests; Polymarket rests unfilled. Cancel
	// takes both down, then the 5 residual NO contracts on Kalshi are
	// hedged with YES because the aggressive exit has no bids.
	fx := newFixture(t, 100, Options{MinNotionalPoly: 0.25})
	fx.primeBooks(20)

	fx.kalshi.placeFn = func(req domain.OrderRequest) (domain.OrderState, error) {
		return domain.OrderState{Status: domain.OrderStatusPartial, FilledSize: 5, AvgPrice: req.Price}, nil
	}
	fx.poly.placeFn = func(req domain.OrderRequest) (domain.OrderState, error) {
		return domain.OrderState{Status: domain.OrderStatusResting, FilledSize: 0}, nil
	}

	// Hedge book: YES asks on Kalshi. No NO-side bids anywhere, so the
	// aggressive candidate is infeasible.
	fx.kalshi.setBook(kInstr, domain.OutcomeYes, []domain.PriceLevel{{Price: 0.44, Size: 20}}, nil)

	trade, err := fx.coord.Execute(context.Background(), opportunity())
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.True(t, trade.Unwound)
	assert.Equal(t, int64(10), trade.Size)

	require.Len(t, fx.journal.unwinds, 1)
	rep := fx.journal.unwinds[0]
	assert.Equal(t, domain.UnwindHedge, rep.Action)
	assert.Equal(t, 0.0, rep.CancelCost)
	assert.Equal(t, int64(5), rep.Quantity)
	// 0.44*5 plus the 1% notional fee on the hedge.
	assert.InDelta(t, 0.44*5+0.01*0.44*5, rep.HedgeCost, 1e-9)
	assert.True(t, math.IsInf(rep.AggressiveCost, 1))
	assert.InDelta(t, rep.HedgeCost, rep.ChosenCost, 1e-9)
	assert.NotEmpty(t, rep.OrderID)

	// Both original orders were taken down.
	assert.Len(t, fx.kalshi.canceled, 1)
	assert.Len(t, fx.poly.canceled, 1)

	// The hedge order bought YES for the residual quantity.
	require.Len(t, fx.kalshi.placed, 2)
	hedge := fx.kalshi.placed[1]
	assert.Equal(t, domain.SideBuyYes, hedge.Side)
	assert.Equal(t, int64(5), hedge.Size)
	assert.Equal(t, 0.44, hedge.Price)
}

func TestExecuteRejectThenAggressiveExit(t *testing.T) {
	// Polymarket fills fully; Kalshi rejects outright. Hedging the 10 YES
	// residual at 0.45 costs 4.51; sweeping out at the floor costs 0.11.
	// The planner picks the sweep.
	fx := newFixture(t, 100, Options{MinNotionalPoly: 0.25})
	fx.primeBooks(20)

	fx.kalshi.placeFn = func(domain.OrderRequest) (domain.OrderState, error) {
		return domain.OrderState{}, domain.ErrVenueRejected
	}

	fx.poly.setBook(pInstr, domain.OutcomeNo, []domain.PriceLevel{{Price: 0.45, Size: 20}}, nil)
	fx.poly.setBook(pInstr, domain.OutcomeYes,
		[]domain.PriceLevel{{Price: 0.36, Size: 20}},
		[]domain.PriceLevel{{Price: 0.34, Size: 20}})

	trade, err := fx.coord.Execute(context.Background(), opportunity())
	require.NoError(t, err)
	assert.True(t, trade.Unwound)

	require.Len(t, fx.journal.unwinds, 1)
	rep := fx.journal.unwinds[0]
	assert.Equal(t, domain.UnwindAggressive, rep.Action)
	assert.Equal(t, int64(10), rep.Quantity)
	assert.InDelta(t, 0.45*10+0.001*10, rep.HedgeCost, 1e-9)
	assert.InDelta(t, 0.01*10+0.001*10, rep.AggressiveCost, 1e-9)
	assert.InDelta(t, 0.11, rep.ChosenCost, 1e-9)

	// The exit sold the held YES at the floor.
	require.Len(t, fx.poly.placed, 2)
	exit := fx.poly.placed[1]
	assert.Equal(t, domain.SideSellYes, exit.Side)
	assert.Equal(t, int64(10), exit.Size)
	assert.Equal(t, 0.01, exit.Price)

	// The realized neutralization cost hit the day's pnl.
	assert.InDelta(t, -0.11, fx.risk.Snapshot().DailyPnL, 1e-9)
}

func TestExecuteUnwindInfeasibleFiresKillSwitch(t *testing.T) {
	fx := newFixture(t, 100, Options{MinNotionalPoly: 0.25})
	fx.primeBooks(20)

	fx.kalshi.placeFn = func(domain.OrderRequest) (domain.OrderState, error) {
		return domain.OrderState{}, domain.ErrVenueRejected
	}
	// No opposite-side asks and no same-side bids on Polymarket: every
	// neutralization candidate is infeasible.
	fx.poly.setBook(pInstr, domain.OutcomeYes, []domain.PriceLevel{{Price: 0.36, Size: 20}}, nil)

	_, err := fx.coord.Execute(context.Background(), opportunity())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnwindFailed)
	assert.True(t, fx.risk.KillSwitchActive())

	require.Len(t, fx.journal.unwinds, 1)
	assert.Equal(t, domain.UnwindNone, fx.journal.unwinds[0].Action)
	assert.True(t, math.IsInf(fx.journal.unwinds[0].ChosenCost, 1))
}
