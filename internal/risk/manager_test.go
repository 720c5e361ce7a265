package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

type stubBalance struct {
	mu  sync.Mutex
	bal float64
	err error
}

func (s *stubBalance) GetBalance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bal, s.err
}

func (s *stubBalance) set(bal float64, err error) {
	s.mu.Lock()
	s.bal = bal
	s.err = err
	s.mu.Unlock()
}

var testLimits = Limits{
	MaxRiskPerTrade: 0.10,
	MaxDailyLoss:    0.20,
	MaxNetExposure:  0.50,
	DriftAlert:      0.05,
}

func newTestManager(t *testing.T, bankroll float64) (*Manager, *stubBalance) {
	t.Helper()
	bal := &stubBalance{bal: bankroll}
	m := New(testLimits, bal, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, m.Init(context.Background()))
	return m, bal
}

func TestCanExecutePerTradeCap(t *testing.T) {
	m, _ := newTestManager(t, 100)

	assert.NoError(t, m.CanExecute(10))

	err := m.CanExecute(10.01)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
}

func TestCanExecuteDailyLossLimit(t *testing.T) {
	m, _ := newTestManager(t, 100)

	// Day-start bankroll 100 allows at most 20 of daily loss.
	m.UpdatePnL(-15)
	assert.NoError(t, m.CanExecute(5))
	assert.ErrorIs(t, m.CanExecute(5.01), domain.ErrRiskRejected)
}

func TestCanExecuteNetExposureCap(t *testing.T) {
	m, _ := newTestManager(t, 100)

	m.RegisterTrade(45)
	assert.NoError(t, m.CanExecute(5))
	assert.ErrorIs(t, m.CanExecute(5.01), domain.ErrRiskRejected)
}

func TestExposureNeverNegative(t *testing.T) {
	m, _ := newTestManager(t, 100)

	m.RegisterTrade(10)
	m.ClosePosition(25)
	assert.Equal(t, 0.0, m.Snapshot().Exposure)

	// Interleaved registers and closes keep the invariant.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.RegisterTrade(3)
		}()
		go func() {
			defer wg.Done()
			m.ClosePosition(5)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, m.Snapshot().Exposure, 0.0)
}

func TestKillSwitchBlocksExecution(t *testing.T) {
	m, _ := newTestManager(t, 100)

	m.TriggerKillSwitch("unwind failed twice")
	err := m.CanExecute(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrKillSwitch)
	assert.True(t, m.KillSwitchActive())

	m.ClearKillSwitch()
	assert.NoError(t, m.CanExecute(1))
}

func TestMidnightReset(t *testing.T) {
	m, _ := newTestManager(t, 100)

	// 23:59:59 local: deep in drawdown with open exposure.
	before := time.Date(2026, 8, 24, 23, 59, 59, 0, time.Local)
	m.now = func() time.Time { return before }
	m.mu.Lock()
	m.lastResetDate = before.Format("2006-01-02")
	m.mu.Unlock()
	m.UpdatePnL(-0.40)
	m.RegisterTrade(0.80)

	// First gate call after midnight sees both zeroed before evaluating.
	m.now = func() time.Time { return time.Date(2026, 8, 25, 0, 0, 1, 0, time.Local) }
	assert.NoError(t, m.CanExecute(5))

	snap := m.Snapshot()
	assert.Equal(t, 0.0, snap.DailyPnL)
	assert.Equal(t, 0.0, snap.Exposure)
	assert.Equal(t, "2026-08-25", snap.LastResetDate)
}

func TestSyncBalanceFailureKeepsBankroll(t *testing.T) {
	m, bal := newTestManager(t, 100)

	bal.set(0, errors.New("venue unavailable"))
	err := m.SyncBalance(context.Background())
	require.Error(t, err)
	assert.Equal(t, 100.0, m.Bankroll())
}

func TestSyncBalanceDriftAlert(t *testing.T) {
	m, bal := newTestManager(t, 100)

	var gotTracked, gotAuth float64
	m.OnDrift(func(tracked, auth float64) {
		gotTracked, gotAuth = tracked, auth
	})

	// 4% drift: under the 5% threshold, no alert.
	bal.set(96, nil)
	require.NoError(t, m.SyncBalance(context.Background()))
	assert.Zero(t, gotAuth)

	// >5% drift from the new tracked value fires the handler.
	bal.set(90, nil)
	require.NoError(t, m.SyncBalance(context.Background()))
	assert.Equal(t, 96.0, gotTracked)
	assert.Equal(t, 90.0, gotAuth)
	assert.Equal(t, 90.0, m.Bankroll())
}

func TestUpdatePnLAdjustsBankroll(t *testing.T) {
	m, _ := newTestManager(t, 100)
	m.UpdatePnL(2.5)
	snap := m.Snapshot()
	assert.Equal(t, 102.5, snap.Bankroll)
	assert.Equal(t, 2.5, snap.DailyPnL)
	// Day-start bankroll is untouched by intraday pnl.
	assert.Equal(t, 100.0, snap.DayStartBankroll)
}

func TestSnapshotObserver(t *testing.T) {
	bal := &stubBalance{bal: 50}
	m := New(testLimits, bal, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var snaps []domain.RiskSnapshot
	m.OnSnapshot(func(s domain.RiskSnapshot) { snaps = append(snaps, s) })

	require.NoError(t, m.Init(context.Background()))
	m.RegisterTrade(4)
	m.ClosePosition(4)

	require.Len(t, snaps, 3)
	assert.Equal(t, 4.0, snaps[1].Exposure)
	assert.Equal(t, 0.0, snaps[2].Exposure)
}
