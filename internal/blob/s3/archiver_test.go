package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

type fakeBlob struct {
	objects map[string][]byte
	failPut bool
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: make(map[string][]byte)} }

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.failPut {
		return assert.AnError
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = buf
	return nil
}

func (f *fakeBlob) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, _ int64) error {
	return f.Put(ctx, path, data, contentType)
}

func (f *fakeBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type memTradeStore struct {
	trades []domain.Trade
}

func (s *memTradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.trades = append(s.trades, t)
	return nil
}

// ListBefore returns oldest first, matching the SQL store's ordering.
func (s *memTradeStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.ExecutedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memTradeStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.Trade
	var deleted int64
	for _, t := range s.trades {
		if t.ExecutedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.trades = kept
	return deleted, nil
}

type memOppStore struct {
	records []domain.OpportunityRecord
}

func (s *memOppStore) Insert(_ context.Context, r domain.OpportunityRecord) error {
	s.records = append(s.records, r)
	return nil
}

func (s *memOppStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.OpportunityRecord, error) {
	var out []domain.OpportunityRecord
	for _, r := range s.records {
		if r.DetectedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memOppStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.OpportunityRecord
	var deleted int64
	for _, r := range s.records {
		if r.DetectedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return deleted, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceArchivesAndDeletesOldRecords(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	blob := newFakeBlob()
	trades := &memTradeStore{}
	opps := &memOppStore{}

	// Two aged trades, one fresh.
	for i, age := range []time.Duration{40 * 24 * time.Hour, 35 * 24 * time.Hour, time.Hour} {
		trades.trades = append(trades.trades, domain.Trade{
			ID:         string(rune('a' + i)),
			ExecutedAt: now.Add(-age),
		})
	}
	opps.records = append(opps.records, domain.OpportunityRecord{
		Opportunity: domain.Opportunity{ID: "o1", DetectedAt: now.Add(-45 * 24 * time.Hour)},
		Decision:    domain.DecisionRejected,
	})

	a := NewArchiver(blob, blob, opps, trades, 30*24*time.Hour, discardLogger())
	a.now = func() time.Time { return now }

	require.NoError(t, a.RunOnce(context.Background()))

	assert.Len(t, trades.trades, 1, "fresh trade stays")
	assert.Empty(t, opps.records)
	require.Len(t, blob.objects, 2)

	var tradeLines int
	for path, data := range blob.objects {
		if strings.HasPrefix(path, "archive/trades/") {
			tradeLines = bytes.Count(data, []byte("\n"))
		}
	}
	assert.Equal(t, 2, tradeLines, "one JSONL line per archived trade")
}

func TestRunOnceKeepsRowsWhenUploadFails(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	blob := newFakeBlob()
	blob.failPut = true
	trades := &memTradeStore{
		trades: []domain.Trade{{ID: "t1", ExecutedAt: now.Add(-60 * 24 * time.Hour)}},
	}

	a := NewArchiver(blob, blob, nil, trades, 30*24*time.Hour, discardLogger())
	a.now = func() time.Time { return now }

	require.Error(t, a.RunOnce(context.Background()))
	assert.Len(t, trades.trades, 1, "rows must survive a failed upload")
}

func TestRunOnceNoEligibleRecordsWritesNothing(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	blob := newFakeBlob()
	trades := &memTradeStore{
		trades: []domain.Trade{{ID: "t1", ExecutedAt: now.Add(-time.Hour)}},
	}

	a := NewArchiver(blob, blob, nil, trades, 30*24*time.Hour, discardLogger())
	a.now = func() time.Time { return now }

	require.NoError(t, a.RunOnce(context.Background()))
	assert.Empty(t, blob.objects)
	assert.Len(t, trades.trades, 1)
}

func TestFullBatchDrainsInMultiplePasses(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	blob := newFakeBlob()
	trades := &memTradeStore{}
	for i := 0; i < 5; i++ {
		trades.trades = append(trades.trades, domain.Trade{
			ID:         string(rune('a' + i)),
			ExecutedAt: now.Add(-time.Duration(40+i) * 24 * time.Hour),
		})
	}

	a := NewArchiver(blob, blob, nil, trades, 30*24*time.Hour, discardLogger())
	a.now = func() time.Time { return now }
	a.batchLimit = 2

	require.NoError(t, a.RunOnce(context.Background()))
	assert.Empty(t, trades.trades)
	assert.GreaterOrEqual(t, len(blob.objects), 2, "multiple batch objects uploaded")
}
