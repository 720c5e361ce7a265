package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/sim"
)

// wrapForMode applies the paper-trading wrapper in paper mode. Each venue
// gets its own paper bankroll; live mode passes the adapters through.
func wrapForMode(cfg *config.Config, kalshi, poly domain.VenueAdapter, logger *slog.Logger) (domain.VenueAdapter, domain.VenueAdapter) {
	if cfg.Mode != "paper" {
		return kalshi, poly
	}
	opts := sim.Options{
		Bankroll:     cfg.Paper.Bankroll,
		AvgLatency:   time.Duration(cfg.Paper.AvgLatencyMs) * time.Millisecond,
		SlippageProb: cfg.Paper.SlippageProb,
	}
	return sim.NewVenue(kalshi, opts, logger), sim.NewVenue(poly, opts, logger)
}

// initRisk opens the trading day. Live mode syncs the authoritative balance
// from the venue of record; paper mode starts from the configured bankroll.
func (a *App) initRisk(ctx context.Context, deps *Dependencies) error {
	if a.cfg.Mode == "paper" {
		deps.Risk.InitWithBankroll(a.cfg.Paper.Bankroll)
		a.logger.Info("paper trading day opened", "bankroll", a.cfg.Paper.Bankroll)
		return nil
	}
	if err := deps.Risk.Init(ctx); err != nil {
		return fmt.Errorf("app: initial balance sync: %w: %w", ErrVenue, err)
	}
	a.logger.Info("trading day opened", "bankroll", deps.Risk.Bankroll())
	return nil
}
