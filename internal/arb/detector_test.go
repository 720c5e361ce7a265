package arb

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

var (
	kalshiFees = FeeModel{Rate: 0.01}
	polyFees   = FeeModel{PerUnit: 0.001}
)

func testPair() domain.MatchedPair {
	return domain.MatchedPair{
		ID:      "pair-1",
		Key:     "BTC:1787659200",
		Kalshi:  domain.Market{Venue: domain.VenueKalshi, Instrument: "KXBTC15M-26AUG241215"},
		Polymarket: domain.Market{Venue: domain.VenuePolymarket, Instrument: "0xdeadbeef"},
	}
}

func newTestDetector(opts Options) *Detector {
	return New(opts, kalshiFees, polyFees, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEvaluateCleanHardArb(t *testing.T) {
	d := newTestDetector(Options{MinProfit: 0.005})

	// YES on Polymarket at 0.36, NO on Kalshi at 0.55. The other strategy
	// is far from profitable.
	q := Quotes{KalshiYes: 0.60, KalshiNo: 0.55, PolyYes: 0.36, PolyNo: 0.52}
	opp, ok := d.Evaluate(testPair(), q)
	require.True(t, ok)

	assert.Equal(t, domain.StrategyNoKalshiYesPoly, opp.Strategy)
	assert.InDelta(t, 0.91, opp.GrossCost, 1e-9)
	assert.InDelta(t, 0.0065, opp.Fees, 1e-9) // 0.01*0.55 + 0.001
	assert.InDelta(t, 0.0835, opp.NetProfit, 1e-9)

	// Recomputing net from the opportunity's own stated prices and the fee
	// models must reproduce NetProfit exactly.
	fk, fp := d.Fees()
	recomputed := 1 - (opp.KalshiLeg.Price + opp.PolyLeg.Price) -
		fk.Fee(opp.KalshiLeg.Price) - fp.Fee(opp.PolyLeg.Price)
	assert.InDelta(t, opp.NetProfit, recomputed, 1e-9)

	assert.Equal(t, domain.SideBuyNo, opp.KalshiLeg.Side)
	assert.Equal(t, domain.SideBuyYes, opp.PolyLeg.Side)
	assert.Equal(t, "KXBTC15M-26AUG241215", opp.KalshiLeg.Instrument)
	assert.Equal(t, "0xdeadbeef", opp.PolyLeg.Instrument)
}

func TestEvaluatePrefilterReject(t *testing.T) {
	d := newTestDetector(Options{PrefilterEpsilon: 0.02})

	// Both gross totals are exactly 1.00 > 1 - 2*0.02; no fee math runs.
	q := Quotes{KalshiYes: 0.50, KalshiNo: 0.50, PolyYes: 0.50, PolyNo: 0.50}
	_, ok := d.Evaluate(testPair(), q)
	assert.False(t, ok)
}

func TestEvaluateBelowMinProfit(t *testing.T) {
	d := newTestDetector(Options{MinProfit: 0.05})

	// Gross 0.955 passes the pre-filter, net ~0.039 after fees, below the
	// configured floor.
	q := Quotes{KalshiYes: 0.47, KalshiNo: 0.99, PolyYes: 0.99, PolyNo: 0.485}
	opp, ok := d.Evaluate(testPair(), q)
	assert.False(t, ok, "net below floor must not emit, got %+v", opp)
}

func TestEvaluateTieBreaksByOrdinal(t *testing.T) {
	d := newTestDetector(Options{MinProfit: 0.005})

	// Symmetric quotes: both strategies net the same. The lower-ordinal
	// strategy (YES Kalshi + NO Polymarket) must win.
	q := Quotes{KalshiYes: 0.45, KalshiNo: 0.45, PolyYes: 0.45, PolyNo: 0.45}
	opp, ok := d.Evaluate(testPair(), q)
	require.True(t, ok)
	assert.Equal(t, domain.StrategyYesKalshiNoPoly, opp.Strategy)
}

func TestEvaluateMemoAbsorbsDuplicates(t *testing.T) {
	d := newTestDetector(Options{MemoTTL: 100 * time.Millisecond})
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	q := Quotes{KalshiYes: 0.60, KalshiNo: 0.55, PolyYes: 0.36, PolyNo: 0.52}
	first, ok := d.Evaluate(testPair(), q)
	require.True(t, ok)

	// Identical quotes inside the TTL return the memoized opportunity.
	base = base.Add(50 * time.Millisecond)
	second, ok := d.Evaluate(testPair(), q)
	require.True(t, ok)
	assert.Equal(t, first.ID, second.ID)

	// Past the TTL the pair is re-evaluated from scratch.
	base = base.Add(51 * time.Millisecond)
	third, ok := d.Evaluate(testPair(), q)
	require.True(t, ok)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestEvaluateMemoKeySensitiveToPrices(t *testing.T) {
	d := newTestDetector(Options{})

	q := Quotes{KalshiYes: 0.60, KalshiNo: 0.55, PolyYes: 0.36, PolyNo: 0.52}
	first, ok := d.Evaluate(testPair(), q)
	require.True(t, ok)

	q.PolyYes = 0.35
	second, ok := d.Evaluate(testPair(), q)
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.NetProfit, first.NetProfit)
}

func TestFeeModel(t *testing.T) {
	assert.InDelta(t, 0.0055, kalshiFees.Fee(0.55), 1e-12)
	assert.InDelta(t, 0.001, polyFees.Fee(0.55), 1e-12)
	assert.InDelta(t, 0.01, polyFees.FeeFor(0.55, 10), 1e-12)
	assert.InDelta(t, 0.055, kalshiFees.FeeFor(0.55, 10), 1e-12)
}
