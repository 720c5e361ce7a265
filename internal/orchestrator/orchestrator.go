// Package orchestrator drives the trading lifecycle: discovery, push
// subscriptions, the sticky-market policy, and the cooldown gate between
// trades. Updates are funneled through a single consumer so at most one trade
// is ever in flight.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/arb"
	"github.com/alanyoungcy/crossarb/internal/books"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/matcher"
)

// Detector is the opportunity evaluation port.
type Detector interface {
	Evaluate(pair domain.MatchedPair, q arb.Quotes) (domain.Opportunity, bool)
}

// Executor is the trade execution port.
type Executor interface {
	Execute(ctx context.Context, opp domain.Opportunity) (*domain.Trade, error)
}

// Journal is the orchestrator's persistence port for pair lifecycle events.
type Journal interface {
	Pair(pair domain.MatchedPair)
	InvalidatePair(pairID, reason string)
}

// Notifier pushes operator-visible events. May be nil.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deduper is an optional cross-process execution guard consulted after the
// in-memory dedupe window, backed by shared storage so a restart cannot
// re-fire an opportunity the previous process already traded.
type Deduper interface {
	Claim(ctx context.Context, pairKey, strategy string) (bool, error)
	Release(ctx context.Context, pairKey, strategy string) error
}

// Options tunes the policy layer.
type Options struct {
	KalshiSeries    []string
	PolyTagID       int
	PolyLimit       int
	TradeCooldown   time.Duration
	DedupeWindow    time.Duration
	PriceBand       [2]float64
	TimeToCloseMin  time.Duration
	DiscoveryRetry  time.Duration
	UpdateBuffer    int
}

func (o *Options) fillDefaults() {
	if o.TradeCooldown <= 0 {
		o.TradeCooldown = 60 * time.Second
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = 15 * time.Second
	}
	if o.PriceBand == [2]float64{} {
		o.PriceBand = [2]float64{0.10, 0.90}
	}
	if o.TimeToCloseMin <= 0 {
		o.TimeToCloseMin = 60 * time.Second
	}
	if o.DiscoveryRetry <= 0 {
		o.DiscoveryRetry = 5 * time.Minute
	}
	if o.UpdateBuffer <= 0 {
		o.UpdateBuffer = 256
	}
	if o.PolyLimit <= 0 {
		o.PolyLimit = 20
	}
}

// Orchestrator owns the live pair set and the update loop.
type Orchestrator struct {
	kalshi   domain.VenueAdapter
	poly     domain.VenueAdapter
	matcher  *matcher.Matcher
	detector Detector
	executor Executor
	books    *books.Cache
	journal  Journal
	notifier Notifier
	deduper  Deduper
	logger   *slog.Logger
	opts     Options

	mu            sync.Mutex
	pairs         map[string]*domain.MatchedPair // keyed by instrument, both venues
	activeKey     string
	cooldownUntil time.Time
	lastExec      map[string]time.Time // (pair key, strategy) -> execution time

	updates chan domain.OrderbookSnapshot
	now     func() time.Time
}

// New wires an Orchestrator.
func New(
	kalshi, poly domain.VenueAdapter,
	m *matcher.Matcher,
	detector Detector,
	executor Executor,
	bookCache *books.Cache,
	journal Journal,
	notifier Notifier,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	opts.fillDefaults()
	return &Orchestrator{
		kalshi:   kalshi,
		poly:     poly,
		matcher:  m,
		detector: detector,
		executor: executor,
		books:    bookCache,
		journal:  journal,
		notifier: notifier,
		logger:   logger.With("component", "orchestrator"),
		opts:     opts,
		pairs:    make(map[string]*domain.MatchedPair),
		lastExec: make(map[string]time.Time),
		updates:  make(chan domain.OrderbookSnapshot, opts.UpdateBuffer),
		now:      time.Now,
	}
}

// SetDeduper installs the cross-process execution guard.
func (o *Orchestrator) SetDeduper(d Deduper) { o.deduper = d }

// Run discovers pairs, subscribes to both venues, and consumes push updates
// until ctx is done. A discovery that yields no pairs is retried on the
// configured interval.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		n, err := o.discover(ctx)
		if err != nil {
			return fmt.Errorf("orchestrator: discovery: %w", err)
		}
		if n > 0 {
			break
		}
		o.logger.Info("no pairs discovered, retrying", "retry_in", o.opts.DiscoveryRetry.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.opts.DiscoveryRetry):
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-o.updates:
			o.handleUpdate(ctx, snap)
		}
	}
}

// discover fetches both catalogs in parallel, matches them, journals the
// resulting pairs, and subscribes to their push streams. Returns the pair
// count.
func (o *Orchestrator) discover(ctx context.Context) (int, error) {
	var kalshiMarkets, polyMarkets []domain.Market
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ms, err := o.kalshi.FetchCatalog(gctx, domain.CatalogFilter{
			Series: o.opts.KalshiSeries,
			Status: "active",
		})
		if err != nil {
			return fmt.Errorf("kalshi catalog: %w", err)
		}
		kalshiMarkets = ms
		return nil
	})
	g.Go(func() error {
		ms, err := o.poly.FetchCatalog(gctx, domain.CatalogFilter{
			Series: []string{fmt.Sprintf("%d", o.opts.PolyTagID)},
			Status: "active",
			Limit:  o.opts.PolyLimit,
		})
		if err != nil {
			return fmt.Errorf("polymarket catalog: %w", err)
		}
		polyMarkets = ms
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	matched := o.matcher.Match(kalshiMarkets, polyMarkets)
	if len(matched) == 0 {
		return 0, nil
	}

	var kalshiInstruments, polyInstruments []string
	o.mu.Lock()
	for i := range matched {
		p := matched[i]
		o.pairs[p.Kalshi.Instrument] = &matched[i]
		o.pairs[p.Polymarket.Instrument] = &matched[i]
		kalshiInstruments = append(kalshiInstruments, p.Kalshi.Instrument)
		polyInstruments = append(polyInstruments, p.Polymarket.Instrument)
	}
	o.mu.Unlock()

	for i := range matched {
		o.journal.Pair(matched[i])
	}

	if err := o.kalshi.SubscribeOrderbooks(ctx, kalshiInstruments, o.onBookUpdate); err != nil {
		return 0, fmt.Errorf("kalshi subscribe: %w", err)
	}
	if err := o.poly.SubscribeOrderbooks(ctx, polyInstruments, o.onBookUpdate); err != nil {
		return 0, fmt.Errorf("polymarket subscribe: %w", err)
	}

	o.logger.Info("discovery complete",
		"kalshi_markets", len(kalshiMarkets),
		"polymarket_markets", len(polyMarkets),
		"pairs", len(matched))
	return len(matched), nil
}

// onBookUpdate is the push callback: write through to the cache, then hand
// off to the single consumer. A full buffer drops the update; the next push
// for the instrument supersedes it anyway.
func (o *Orchestrator) onBookUpdate(snap domain.OrderbookSnapshot) {
	o.books.Put(snap)
	select {
	case o.updates <- snap:
	default:
	}
}

// handleUpdate applies the sticky-market and cooldown policy to one update,
// then runs detection and execution when the update survives the gates.
func (o *Orchestrator) handleUpdate(ctx context.Context, snap domain.OrderbookSnapshot) {
	now := o.now()

	// Cooldown is checked before any pair lookup or detector work.
	o.mu.Lock()
	if now.Before(o.cooldownUntil) {
		o.mu.Unlock()
		return
	}
	pair, ok := o.pairs[snap.Instrument]
	o.mu.Unlock()
	if !ok {
		return
	}

	if !o.passesFilters(pair, now) {
		o.clearActive(pair.Key)
		return
	}

	// Sticky policy: adopt the pair when none is active, drop updates for
	// any other pair while one is.
	o.mu.Lock()
	if o.activeKey == "" {
		o.activeKey = pair.Key
	} else if o.activeKey != pair.Key {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	q, ok := o.quotes(pair)
	if !ok {
		return
	}

	opp, ok := o.detector.Evaluate(*pair, q)
	if !ok {
		return
	}

	// Dedupe recently executed (pair, strategy) combinations.
	dedupeKey := pair.Key + "|" + string(opp.Strategy)
	o.mu.Lock()
	if at, seen := o.lastExec[dedupeKey]; seen && now.Sub(at) < o.opts.DedupeWindow {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	claimed := false
	if o.deduper != nil {
		won, err := o.deduper.Claim(ctx, pair.Key, string(opp.Strategy))
		if err != nil {
			// Shared dedupe is advisory; the in-memory window still holds.
			o.logger.Warn("dedup claim failed", "error", err)
		} else if !won {
			return
		} else {
			claimed = true
		}
	}

	trade, err := o.executor.Execute(ctx, opp)
	if err != nil && trade == nil {
		// Pre-placement abort: already journalled with its reason. Nothing
		// was placed, so free the shared claim for an immediate retry.
		if claimed {
			if rerr := o.deduper.Release(ctx, pair.Key, string(opp.Strategy)); rerr != nil {
				o.logger.Warn("dedup release failed", "error", rerr)
			}
		}
		return
	}

	o.mu.Lock()
	o.lastExec[dedupeKey] = o.now()
	o.cooldownUntil = o.now().Add(o.opts.TradeCooldown)
	o.activeKey = ""
	o.mu.Unlock()

	if trade != nil {
		o.notifyTrade(ctx, trade)
	}

	// Instruments live ~15 minutes; refresh the pair set in the background
	// rather than polling on a timer.
	go func() {
		if _, err := o.discover(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("post-trade rediscovery failed", "error", err)
		}
	}()
}

// passesFilters applies the price band and time-to-close filters.
func (o *Orchestrator) passesFilters(pair *domain.MatchedPair, now time.Time) bool {
	if pair.ResolutionTime.Sub(now) < o.opts.TimeToCloseMin {
		o.invalidate(pair, "time to close below minimum")
		return false
	}

	q, ok := o.quotes(pair)
	if !ok {
		// Cannot evaluate the band without all four fresh books.
		return false
	}
	lo, hi := o.opts.PriceBand[0], o.opts.PriceBand[1]
	for _, p := range []float64{q.KalshiYes, q.KalshiNo, q.PolyYes, q.PolyNo} {
		if p < lo || p > hi {
			return false
		}
	}
	return true
}

// quotes reads all four fresh best asks for the pair from the cache.
func (o *Orchestrator) quotes(pair *domain.MatchedPair) (arb.Quotes, bool) {
	var q arb.Quotes
	reads := []struct {
		key books.Key
		dst *float64
	}{
		{books.Key{Venue: domain.VenueKalshi, Instrument: pair.Kalshi.Instrument, Outcome: domain.OutcomeYes}, &q.KalshiYes},
		{books.Key{Venue: domain.VenueKalshi, Instrument: pair.Kalshi.Instrument, Outcome: domain.OutcomeNo}, &q.KalshiNo},
		{books.Key{Venue: domain.VenuePolymarket, Instrument: pair.Polymarket.Instrument, Outcome: domain.OutcomeYes}, &q.PolyYes},
		{books.Key{Venue: domain.VenuePolymarket, Instrument: pair.Polymarket.Instrument, Outcome: domain.OutcomeNo}, &q.PolyNo},
	}
	for _, r := range reads {
		snap, ok := o.books.Fresh(r.key)
		if !ok {
			return arb.Quotes{}, false
		}
		ask, ok := snap.BestAsk()
		if !ok {
			return arb.Quotes{}, false
		}
		*r.dst = ask.Price
	}
	return q, true
}

// clearActive drops the active pair when the given key holds it.
func (o *Orchestrator) clearActive(key string) {
	o.mu.Lock()
	if o.activeKey == key {
		o.activeKey = ""
	}
	o.mu.Unlock()
}

// invalidate removes a pair from the live set and journals the reason.
func (o *Orchestrator) invalidate(pair *domain.MatchedPair, reason string) {
	o.mu.Lock()
	delete(o.pairs, pair.Kalshi.Instrument)
	delete(o.pairs, pair.Polymarket.Instrument)
	if o.activeKey == pair.Key {
		o.activeKey = ""
	}
	o.mu.Unlock()

	o.books.Drop(domain.VenueKalshi, pair.Kalshi.Instrument)
	o.books.Drop(domain.VenuePolymarket, pair.Polymarket.Instrument)
	o.journal.InvalidatePair(pair.ID, reason)
	o.logger.Info("pair invalidated", "pair_key", pair.Key, "reason", reason)
}

func (o *Orchestrator) notifyTrade(ctx context.Context, trade *domain.Trade) {
	if o.notifier == nil {
		return
	}
	event, title := "trade_executed", "Trade executed"
	if trade.Unwound {
		event, title = "unwind", "Trade unwound"
	}
	msg := fmt.Sprintf("pair=%s strategy=%s size=%d cost=%.4f expected_net=%.4f",
		trade.PairKey, trade.Strategy, trade.Size, trade.TotalCost, trade.ExpectedNet)
	if err := o.notifier.Notify(ctx, event, title, msg); err != nil {
		o.logger.Warn("notification failed", "event", event, "error", err)
	}
}
