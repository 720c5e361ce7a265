package journal

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

type memStores struct {
	mu           sync.Mutex
	pairs        []domain.MatchedPair
	invalidated  []string
	opps         []domain.OpportunityRecord
	trades       []domain.Trade
	unwinds      []domain.UnwindReport
	risks        []domain.RiskSnapshot
}

func (m *memStores) Insert(ctx context.Context, pair domain.MatchedPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = append(m.pairs, pair)
	return nil
}

func (m *memStores) Invalidate(ctx context.Context, pairID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, pairID)
	return nil
}

type oppStore struct{ m *memStores }

func (s oppStore) Insert(ctx context.Context, rec domain.OpportunityRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.opps = append(s.m.opps, rec)
	return nil
}
func (s oppStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.OpportunityRecord, error) {
	return nil, nil
}
func (s oppStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil }

type tradeStore struct{ m *memStores }

func (s tradeStore) Insert(ctx context.Context, t domain.Trade) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.trades = append(s.m.trades, t)
	return nil
}
func (s tradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	return nil, nil
}
func (s tradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type unwindStore struct{ m *memStores }

func (s unwindStore) Insert(ctx context.Context, rep domain.UnwindReport) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.unwinds = append(s.m.unwinds, rep)
	return nil
}

type riskStore struct{ m *memStores }

func (s riskStore) Insert(ctx context.Context, snap domain.RiskSnapshot) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.risks = append(s.m.risks, snap)
	return nil
}

func newTestJournal(m *memStores) *Journal {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Stores{
		Pairs:         m,
		Opportunities: oppStore{m},
		Trades:        tradeStore{m},
		Unwinds:       unwindStore{m},
		Risk:          riskStore{m},
	}, logger)
}

func TestJournalDrainsAllRecordTypes(t *testing.T) {
	m := &memStores{}
	j := newTestJournal(m)

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(context.Background())
	}()

	j.Pair(domain.MatchedPair{ID: "p1"})
	j.InvalidatePair("p1", "closed")
	j.Opportunity(domain.OpportunityRecord{Decision: domain.DecisionExecuted})
	j.Trade(domain.Trade{ID: "t1"})
	j.Unwind(domain.UnwindReport{TradeID: "t1"})
	j.RiskSnapshot(domain.RiskSnapshot{Bankroll: 100})

	j.Close()
	<-done

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.pairs, 1)
	assert.Equal(t, []string{"p1"}, m.invalidated)
	assert.Len(t, m.opps, 1)
	assert.Len(t, m.trades, 1)
	assert.Len(t, m.unwinds, 1)
	assert.Len(t, m.risks, 1)
}

func TestJournalFlushesBufferedEntriesOnClose(t *testing.T) {
	m := &memStores{}
	j := newTestJournal(m)

	// Enqueue before the drain loop even starts.
	for i := 0; i < 10; i++ {
		j.Trade(domain.Trade{ID: "t"})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(context.Background())
	}()
	j.Close()
	<-done

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.trades, 10)
}

func TestJournalNilStoresAreSkipped(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := New(Stores{}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(context.Background())
	}()
	j.Trade(domain.Trade{ID: "t"})
	j.Close()
	<-done
}

func TestFlushRiskSnapshotIsSynchronous(t *testing.T) {
	m := &memStores{}
	j := newTestJournal(m)

	require.NoError(t, j.FlushRiskSnapshot(context.Background(), domain.RiskSnapshot{Bankroll: 42}))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.risks, 1)
	assert.InDelta(t, 42, m.risks[0].Bankroll, 1e-9)
}
