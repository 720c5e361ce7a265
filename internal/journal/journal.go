// Package journal persists the engine's decision trail: matched pairs,
// opportunity decisions, trades, unwind reports, and risk snapshots. Writes
// are queued on a channel and drained by a single goroutine so the hot path
// never waits on storage.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Stores groups the persistence interfaces the journal writes through. Any
// nil store disables that record type.
type Stores struct {
	Pairs         domain.PairStore
	Opportunities domain.OpportunityStore
	Trades        domain.TradeStore
	Unwinds       domain.UnwindStore
	Risk          domain.RiskStore
}

// entry is one queued write.
type entry struct {
	pair       *domain.MatchedPair
	invalidate *pairInvalidation
	opp        *domain.OpportunityRecord
	trade      *domain.Trade
	unwind     *domain.UnwindReport
	risk       *domain.RiskSnapshot
}

type pairInvalidation struct {
	pairID string
	reason string
}

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Journal is the asynchronous persistence sink. It satisfies the journal
// ports of both the execution coordinator and the orchestrator.
type Journal struct {
	stores       Stores
	logger       *slog.Logger
	writeTimeout time.Duration

	entries chan entry

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

// New creates a journal with the default queue size.
func New(stores Stores, logger *slog.Logger) *Journal {
	return &Journal{
		stores:       stores,
		logger:       logger.With("component", "journal"),
		writeTimeout: defaultWriteTimeout,
		entries:      make(chan entry, defaultQueueSize),
		closed:       make(chan struct{}),
		drained:      make(chan struct{}),
	}
}

// Run drains the queue until ctx is canceled or Close is called, then
// flushes whatever is still buffered.
func (j *Journal) Run(ctx context.Context) error {
	defer close(j.drained)
	for {
		select {
		case e := <-j.entries:
			j.write(e)
		case <-ctx.Done():
			j.flush()
			return ctx.Err()
		case <-j.closed:
			j.flush()
			return nil
		}
	}
}

// Close stops the drain loop and waits for buffered entries to be written.
func (j *Journal) Close() {
	j.closeOnce.Do(func() { close(j.closed) })
	<-j.drained
}

// Pair implements the orchestrator journal port.
func (j *Journal) Pair(pair domain.MatchedPair) {
	j.enqueue(entry{pair: &pair})
}

// InvalidatePair implements the orchestrator journal port.
func (j *Journal) InvalidatePair(pairID, reason string) {
	j.enqueue(entry{invalidate: &pairInvalidation{pairID: pairID, reason: reason}})
}

// Opportunity implements the coordinator journal port.
func (j *Journal) Opportunity(rec domain.OpportunityRecord) {
	j.enqueue(entry{opp: &rec})
}

// Trade implements the coordinator journal port.
func (j *Journal) Trade(t domain.Trade) {
	j.enqueue(entry{trade: &t})
}

// Unwind implements the coordinator journal port.
func (j *Journal) Unwind(rep domain.UnwindReport) {
	j.enqueue(entry{unwind: &rep})
}

// RiskSnapshot records a risk state observation. Wire it to the risk
// manager's snapshot observer.
func (j *Journal) RiskSnapshot(snap domain.RiskSnapshot) {
	j.enqueue(entry{risk: &snap})
}

// FlushRiskSnapshot writes one snapshot synchronously, bypassing the queue.
// Used at shutdown so the final risk state always lands.
func (j *Journal) FlushRiskSnapshot(ctx context.Context, snap domain.RiskSnapshot) error {
	if j.stores.Risk == nil {
		return nil
	}
	return j.stores.Risk.Insert(ctx, snap)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// enqueue queues an entry without blocking. A full queue drops the entry;
// losing a journal row must never stall trading.
func (j *Journal) enqueue(e entry) {
	select {
	case <-j.closed:
		// Late writes after Close are persisted inline.
		j.write(e)
	default:
		select {
		case j.entries <- e:
		default:
			j.logger.Warn("journal queue full, dropping entry")
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case e := <-j.entries:
			j.write(e)
		default:
			return
		}
	}
}

func (j *Journal) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), j.writeTimeout)
	defer cancel()

	var err error
	switch {
	case e.pair != nil && j.stores.Pairs != nil:
		err = j.stores.Pairs.Insert(ctx, *e.pair)
	case e.invalidate != nil && j.stores.Pairs != nil:
		err = j.stores.Pairs.Invalidate(ctx, e.invalidate.pairID, e.invalidate.reason)
	case e.opp != nil && j.stores.Opportunities != nil:
		err = j.stores.Opportunities.Insert(ctx, *e.opp)
	case e.trade != nil && j.stores.Trades != nil:
		err = j.stores.Trades.Insert(ctx, *e.trade)
	case e.unwind != nil && j.stores.Unwinds != nil:
		err = j.stores.Unwinds.Insert(ctx, *e.unwind)
	case e.risk != nil && j.stores.Risk != nil:
		err = j.stores.Risk.Insert(ctx, *e.risk)
	default:
		return
	}
	if err != nil {
		j.logger.Error("journal write failed", "error", err)
	}
}

// Nop is a journal that discards everything. Useful in tests and paper runs
// without a database.
type Nop struct{}

func (Nop) Pair(domain.MatchedPair)                {}
func (Nop) InvalidatePair(string, string)          {}
func (Nop) Opportunity(domain.OpportunityRecord)   {}
func (Nop) Trade(domain.Trade)                     {}
func (Nop) Unwind(domain.UnwindReport)             {}
func (Nop) RiskSnapshot(domain.RiskSnapshot)       {}
