package arb

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Quotes carries the best-ask prices for all four books of a matched pair.
// Asks only: both strategies buy on both venues.
type Quotes struct {
	KalshiYes float64
	KalshiNo  float64
	PolyYes   float64
	PolyNo    float64
}

// Options tunes the detector.
type Options struct {
	MinProfit        float64       // minimum net profit per unit to emit
	PrefilterEpsilon float64       // fee headroom for the no-fee short circuit
	MemoTTL          time.Duration // duplicate-update absorption window
}

// Detector evaluates both compensating strategies for a pair and emits an
// Opportunity when the better one clears the profit floor.
type Detector struct {
	opts      Options
	feeKalshi FeeModel
	feePoly   FeeModel
	logger    *slog.Logger

	mu   sync.Mutex
	memo map[string]memoEntry
	now  func() time.Time
}

type memoEntry struct {
	opp   domain.Opportunity
	found bool
	at    time.Time
}

// New returns a Detector with the given fee models.
func New(opts Options, feeKalshi, feePoly FeeModel, logger *slog.Logger) *Detector {
	if opts.MinProfit <= 0 {
		opts.MinProfit = 0.005
	}
	if opts.PrefilterEpsilon <= 0 {
		opts.PrefilterEpsilon = 0.02
	}
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = 100 * time.Millisecond
	}
	return &Detector{
		opts:      opts,
		feeKalshi: feeKalshi,
		feePoly:   feePoly,
		logger:    logger.With("component", "detector"),
		memo:      make(map[string]memoEntry),
		now:       time.Now,
	}
}

// Evaluate checks both strategies against the quotes and returns the more
// profitable opportunity if it clears MinProfit. Results are memoized on
// (instruments, prices rounded to 4 decimals) for MemoTTL to absorb duplicate
// push updates.
func (d *Detector) Evaluate(pair domain.MatchedPair, q Quotes) (domain.Opportunity, bool) {
	// Pre-filter: if even the cheaper gross total cannot beat break-even
	// with generous fee headroom, skip fee evaluation entirely.
	s1Gross := q.KalshiYes + q.PolyNo
	s2Gross := q.KalshiNo + q.PolyYes
	if math.Min(s1Gross, s2Gross) > 1-2*d.opts.PrefilterEpsilon {
		return domain.Opportunity{}, false
	}

	key := memoKey(pair.Kalshi.Instrument, pair.Polymarket.Instrument, q)
	d.mu.Lock()
	if e, ok := d.memo[key]; ok && d.now().Sub(e.at) <= d.opts.MemoTTL {
		d.mu.Unlock()
		return e.opp, e.found
	}
	d.mu.Unlock()

	opp, found := d.evaluate(pair, q, s1Gross, s2Gross)

	d.mu.Lock()
	d.memo[key] = memoEntry{opp: opp, found: found, at: d.now()}
	if len(d.memo) > 4096 {
		d.pruneLocked()
	}
	d.mu.Unlock()

	return opp, found
}

func (d *Detector) evaluate(pair domain.MatchedPair, q Quotes, s1Gross, s2Gross float64) (domain.Opportunity, bool) {
	s1Fees := d.feeKalshi.Fee(q.KalshiYes) + d.feePoly.Fee(q.PolyNo)
	s2Fees := d.feeKalshi.Fee(q.KalshiNo) + d.feePoly.Fee(q.PolyYes)
	s1Net := 1 - s1Gross - s1Fees
	s2Net := 1 - s2Gross - s2Fees

	var (
		strategy  domain.ArbStrategy
		gross     float64
		fees      float64
		net       float64
		kalshiLeg domain.Leg
		polyLeg   domain.Leg
	)
	// Ties break deterministically toward the lower strategy ordinal.
	if s1Net >= s2Net {
		strategy, gross, fees, net = domain.StrategyYesKalshiNoPoly, s1Gross, s1Fees, s1Net
		kalshiLeg = domain.Leg{Venue: domain.VenueKalshi, Instrument: pair.Kalshi.Instrument, Side: domain.SideBuyYes, Price: q.KalshiYes}
		polyLeg = domain.Leg{Venue: domain.VenuePolymarket, Instrument: pair.Polymarket.Instrument, Side: domain.SideBuyNo, Price: q.PolyNo}
	} else {
		strategy, gross, fees, net = domain.StrategyNoKalshiYesPoly, s2Gross, s2Fees, s2Net
		kalshiLeg = domain.Leg{Venue: domain.VenueKalshi, Instrument: pair.Kalshi.Instrument, Side: domain.SideBuyNo, Price: q.KalshiNo}
		polyLeg = domain.Leg{Venue: domain.VenuePolymarket, Instrument: pair.Polymarket.Instrument, Side: domain.SideBuyYes, Price: q.PolyYes}
	}

	if net < d.opts.MinProfit {
		return domain.Opportunity{}, false
	}

	opp := domain.Opportunity{
		ID:         uuid.NewString(),
		PairID:     pair.ID,
		PairKey:    pair.Key,
		Strategy:   strategy,
		KalshiLeg:  kalshiLeg,
		PolyLeg:    polyLeg,
		GrossCost:  gross,
		Fees:       fees,
		NetProfit:  net,
		DetectedAt: d.now(),
	}
	d.logger.Info("opportunity detected",
		"pair_key", pair.Key,
		"strategy", string(strategy),
		"gross_cost", gross,
		"fees", fees,
		"net_profit", net)
	return opp, true
}

// Fees returns the configured fee models in (kalshi, polymarket) order.
func (d *Detector) Fees() (FeeModel, FeeModel) {
	return d.feeKalshi, d.feePoly
}

// memoKey rounds prices to 4 decimals so jittering float representations of
// the same tick collapse to one cache entry.
func memoKey(instrK, instrP string, q Quotes) string {
	return fmt.Sprintf("%s|%s|%.4f|%.4f|%.4f|%.4f",
		instrK, instrP, q.KalshiYes, q.KalshiNo, q.PolyYes, q.PolyNo)
}

// pruneLocked drops expired memo entries. Caller holds d.mu.
func (d *Detector) pruneLocked() {
	cutoff := d.now().Add(-d.opts.MemoTTL)
	for k, e := range d.memo {
		if e.at.Before(cutoff) {
			delete(d.memo, k)
		}
	}
}
