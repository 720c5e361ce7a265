// Package risk enforces the per-trade, daily-loss, and net-exposure limits
// and owns the single authoritative view of bankroll and exposure. Every
// mutating or gating call serializes under one mutex so callers observe a
// linear history.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Limits are the declarative risk limits, each a fraction of bankroll.
type Limits struct {
	MaxRiskPerTrade float64
	MaxDailyLoss    float64
	MaxNetExposure  float64
	DriftAlert      float64 // sync-vs-tracked deviation that triggers a warning
}

// DriftFunc is invoked when an authoritative balance sync deviates from the
// tracked bankroll by more than Limits.DriftAlert.
type DriftFunc func(tracked, authoritative float64)

// SnapshotFunc receives a state snapshot after every mutation. Used to feed
// the journal; must not block.
type SnapshotFunc func(domain.RiskSnapshot)

// Manager is the process-wide risk state. Construct with New, then Init once
// before trading.
type Manager struct {
	limits   Limits
	balances domain.BalanceFetcher
	logger   *slog.Logger

	onDrift    DriftFunc
	onSnapshot SnapshotFunc

	mu               sync.Mutex
	bankroll         float64
	dayStartBankroll float64
	dailyPnL         float64
	exposure         float64
	killSwitch       bool
	killReason       string
	lastSyncAt       time.Time
	lastResetDate    string // local calendar date, YYYY-MM-DD

	now func() time.Time
}

// New returns a Manager. balances is the venue-of-record balance source.
func New(limits Limits, balances domain.BalanceFetcher, logger *slog.Logger) *Manager {
	return &Manager{
		limits:   limits,
		balances: balances,
		logger:   logger.With("component", "risk"),
		now:      time.Now,
	}
}

// OnDrift registers the balance drift handler.
func (m *Manager) OnDrift(fn DriftFunc) { m.onDrift = fn }

// OnSnapshot registers the state snapshot observer.
func (m *Manager) OnSnapshot(fn SnapshotFunc) { m.onSnapshot = fn }

// Init pulls the initial authoritative balance and opens the trading day.
func (m *Manager) Init(ctx context.Context) error {
	bal, err := m.balances.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("risk: initial balance sync: %w", err)
	}
	m.mu.Lock()
	m.bankroll = bal
	m.dayStartBankroll = bal
	m.lastSyncAt = m.now()
	m.lastResetDate = m.now().Format("2006-01-02")
	m.snapshotLocked()
	m.mu.Unlock()
	m.logger.Info("risk manager initialized", "bankroll", bal)
	return nil
}

// InitWithBankroll opens the trading day from a fixed bankroll. Paper mode.
func (m *Manager) InitWithBankroll(bankroll float64) {
	m.mu.Lock()
	m.bankroll = bankroll
	m.dayStartBankroll = bankroll
	m.lastSyncAt = m.now()
	m.lastResetDate = m.now().Format("2006-01-02")
	m.snapshotLocked()
	m.mu.Unlock()
	m.logger.Info("risk manager initialized", "bankroll", bankroll, "mode", "paper")
}

// CanExecute gates a prospective trade of the given total cost (fees
// included). A nil return means the trade may proceed. The daily reset check
// runs first so every gate decision is causal after a midnight rollover.
func (m *Manager) CanExecute(totalCost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkDailyResetLocked()

	if m.killSwitch {
		return fmt.Errorf("risk: %s: %w", m.killReason, domain.ErrKillSwitch)
	}
	if totalCost > m.limits.MaxRiskPerTrade*m.bankroll {
		return fmt.Errorf("risk: cost %.4f exceeds per-trade cap %.4f: %w",
			totalCost, m.limits.MaxRiskPerTrade*m.bankroll, domain.ErrRiskRejected)
	}
	if m.dailyPnL-totalCost < -m.limits.MaxDailyLoss*m.dayStartBankroll {
		return fmt.Errorf("risk: daily loss limit would be breached (pnl %.4f, cost %.4f): %w",
			m.dailyPnL, totalCost, domain.ErrRiskRejected)
	}
	if m.exposure+totalCost > m.limits.MaxNetExposure*m.bankroll {
		return fmt.Errorf("risk: exposure %.4f + cost %.4f exceeds net cap %.4f: %w",
			m.exposure, totalCost, m.limits.MaxNetExposure*m.bankroll, domain.ErrRiskRejected)
	}
	return nil
}

// RegisterTrade commits a trade's total cost (fees included) to exposure.
func (m *Manager) RegisterTrade(totalCost float64) {
	m.mu.Lock()
	m.exposure += totalCost
	m.snapshotLocked()
	m.mu.Unlock()
}

// ClosePosition releases exposure, clamped at zero.
func (m *Manager) ClosePosition(amount float64) {
	m.mu.Lock()
	m.exposure -= amount
	if m.exposure < 0 {
		m.exposure = 0
	}
	m.snapshotLocked()
	m.mu.Unlock()
}

// UpdatePnL applies a realized profit or loss to the day's running total and
// to the bankroll.
func (m *Manager) UpdatePnL(delta float64) {
	m.mu.Lock()
	m.dailyPnL += delta
	m.bankroll += delta
	m.snapshotLocked()
	m.mu.Unlock()
}

// SyncBalance pulls the authoritative venue-of-record balance. A failure
// leaves the previous bankroll in place.
func (m *Manager) SyncBalance(ctx context.Context) error {
	bal, err := m.balances.GetBalance(ctx)
	if err != nil {
		m.logger.Warn("balance sync failed, keeping previous bankroll", "error", err)
		return err
	}

	m.mu.Lock()
	tracked := m.bankroll
	m.bankroll = bal
	m.lastSyncAt = m.now()
	m.snapshotLocked()
	m.mu.Unlock()

	if m.limits.DriftAlert > 0 && tracked > 0 {
		drift := math.Abs(bal-tracked) / tracked
		if drift > m.limits.DriftAlert {
			m.logger.Warn("balance drift exceeds threshold",
				"tracked", tracked, "authoritative", bal, "drift", drift)
			if m.onDrift != nil {
				m.onDrift(tracked, bal)
			}
		}
	}
	return nil
}

// LastSyncAt returns the time of the last successful authoritative sync.
func (m *Manager) LastSyncAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSyncAt
}

// TriggerKillSwitch halts all trading until ClearKillSwitch.
func (m *Manager) TriggerKillSwitch(reason string) {
	m.mu.Lock()
	m.killSwitch = true
	m.killReason = reason
	m.snapshotLocked()
	m.mu.Unlock()
	m.logger.Error("kill switch triggered", "reason", reason)
}

// ClearKillSwitch re-enables trading.
func (m *Manager) ClearKillSwitch() {
	m.mu.Lock()
	m.killSwitch = false
	m.killReason = ""
	m.snapshotLocked()
	m.mu.Unlock()
	m.logger.Warn("kill switch cleared")
}

// KillSwitchActive reports the kill switch state.
func (m *Manager) KillSwitchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch
}

// Snapshot returns a point-in-time copy of the state.
func (m *Manager) Snapshot() domain.RiskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotValueLocked()
}

// Bankroll returns the current tracked bankroll.
func (m *Manager) Bankroll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bankroll
}

// RunSyncLoop re-syncs the balance every period until ctx is done.
func (m *Manager) RunSyncLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.SyncBalance(ctx)
		}
	}
}

// checkDailyResetLocked zeros dailyPnL and exposure when the local calendar
// date has advanced past lastResetDate. Caller holds m.mu.
func (m *Manager) checkDailyResetLocked() {
	today := m.now().Format("2006-01-02")
	if today == m.lastResetDate {
		return
	}
	m.logger.Info("daily reset",
		"previous_date", m.lastResetDate,
		"date", today,
		"closed_pnl", m.dailyPnL)
	m.dailyPnL = 0
	m.exposure = 0
	m.dayStartBankroll = m.bankroll
	m.lastResetDate = today
	m.snapshotLocked()
}

func (m *Manager) snapshotValueLocked() domain.RiskSnapshot {
	return domain.RiskSnapshot{
		Bankroll:         m.bankroll,
		DayStartBankroll: m.dayStartBankroll,
		DailyPnL:         m.dailyPnL,
		Exposure:         m.exposure,
		KillSwitch:       m.killSwitch,
		KillReason:       m.killReason,
		LastSyncAt:       m.lastSyncAt,
		LastResetDate:    m.lastResetDate,
		At:               m.now(),
	}
}

func (m *Manager) snapshotLocked() {
	if m.onSnapshot != nil {
		m.onSnapshot(m.snapshotValueLocked())
	}
}
