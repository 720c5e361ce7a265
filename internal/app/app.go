// Package app owns the application lifecycle: it wires the venue adapters,
// engine components, and persistence from configuration, starts the long
// running loops, and tears everything down in reverse order on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/notify"
)

// Process exit codes, mapped from the error chain by ExitCode.
const (
	ExitOK         = 0
	ExitConfig     = 1
	ExitCredential = 2
	ExitVenue      = 3
	ExitKillSwitch = 4
)

// Wiring failure categories. Wire wraps its errors with one of these so main
// can pick the right exit code.
var (
	ErrConfig     = errors.New("configuration error")
	ErrCredential = errors.New("credential error")
	ErrVenue      = errors.New("venue error")
)

// ExitCode maps an error chain to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitOK
	case errors.Is(err, ErrConfig):
		return ExitConfig
	case errors.Is(err, ErrCredential), errors.Is(err, domain.ErrUnauthorized):
		return ExitCredential
	case errors.Is(err, domain.ErrKillSwitch):
		return ExitKillSwitch
	case errors.Is(err, ErrVenue), errors.Is(err, domain.ErrVenueUnavailable):
		return ExitVenue
	default:
		return ExitConfig
	}
}

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an App from a loaded configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and blocks until the context is cancelled, the
// kill switch fires, or a fatal error surfaces.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	defer deps.Close()

	if err := a.initRisk(ctx, deps); err != nil {
		return err
	}

	return a.runLoops(ctx, deps)
}

// runLoops starts every long running component under one errgroup. The first
// failure (or the kill switch) cancels the rest.
func (a *App) runLoops(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	if deps.JournalImpl != nil {
		g.Go(func() error { return deps.JournalImpl.Run(ctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			err := deps.Archiver.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	syncPeriod := time.Duration(a.cfg.Risk.BalanceSyncPeriodS) * time.Second
	g.Go(func() error {
		deps.Risk.RunSyncLoop(ctx, syncPeriod)
		return nil
	})

	// Kill switch watchdog: a tripped switch is terminal for the process.
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if deps.Risk.KillSwitchActive() {
					snap := deps.Risk.Snapshot()
					_ = deps.Notifier.Notify(context.WithoutCancel(ctx), notify.EventKillSwitch,
						"Kill switch fired", snap.KillReason)
					return fmt.Errorf("app: trading halted (%s): %w", snap.KillReason, domain.ErrKillSwitch)
				}
			}
		}
	})

	g.Go(func() error { return deps.Orch.Run(ctx) })

	err := g.Wait()

	// Persist the final risk state before the journal drains.
	if deps.JournalImpl != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := deps.JournalImpl.FlushRiskSnapshot(flushCtx, deps.Risk.Snapshot()); ferr != nil {
			a.logger.Warn("final risk snapshot flush failed", "error", ferr)
		}
		deps.JournalImpl.Close()
	}

	if errors.Is(err, context.Canceled) {
		a.logger.Info("shutdown complete")
		return nil
	}
	return err
}
