// Package sim provides the paper-trading venue wrapper. Market data flows
// through to the real venue untouched; order placement is simulated against
// a local bankroll so strategies can run end to end without spending funds.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Options tunes the simulated execution behaviour.
type Options struct {
	// Bankroll is the starting paper balance in dollars.
	Bankroll float64

	// AvgLatency is the mean simulated placement latency. Zero disables
	// the latency simulation.
	AvgLatency time.Duration

	// SlippageProb is the probability that a placement does not fill
	// cleanly: half of those reject outright, half fill partially.
	SlippageProb float64
}

// Venue wraps a real venue adapter for paper trading. Catalog, orderbook and
// subscription calls pass through to the wrapped venue; orders and balances
// are simulated locally.
type Venue struct {
	domain.VenueAdapter
	logger *slog.Logger
	opts   Options

	mu      sync.Mutex
	balance float64
	orders  map[string]domain.OrderState

	// Injection points for deterministic tests.
	randFloat func() float64
	normFloat func() float64
	sleep     func(context.Context, time.Duration) error
}

// NewVenue wraps inner with simulated execution.
func NewVenue(inner domain.VenueAdapter, opts Options, logger *slog.Logger) *Venue {
	return &Venue{
		VenueAdapter: inner,
		logger:       logger.With("component", "sim", "venue", inner.Venue()),
		opts:         opts,
		balance:      opts.Bankroll,
		orders:       make(map[string]domain.OrderState),
		randFloat:    rand.Float64,
		normFloat:    rand.NormFloat64,
		sleep:        sleepCtx,
	}
}

// GetBalance returns the paper balance.
func (v *Venue) GetBalance(context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance, nil
}

// PlaceOrder simulates a placement: latency drawn from a normal distribution
// around AvgLatency, then either a clean fill at the limit price, a partial
// fill, or a venue reject.
func (v *Venue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if req.Size < 1 || req.Price <= 0 || req.Price >= 1 {
		return "", fmt.Errorf("sim: price %.4f size %d: %w", req.Price, req.Size, domain.ErrInvalidOrder)
	}

	if err := v.sleep(ctx, v.latency()); err != nil {
		return "", err
	}

	fillSize := req.Size
	status := domain.OrderStatusFilled
	if v.randFloat() < v.opts.SlippageProb {
		if v.randFloat() < 0.5 {
			v.logger.Debug("simulated reject", "instrument", req.Instrument, "side", req.Side)
			return "", fmt.Errorf("sim: simulated slippage reject: %w", domain.ErrVenueRejected)
		}
		// Partial fill of roughly half the requested size.
		fillSize = req.Size / 2
		if fillSize < 1 {
			fillSize = 1
		}
		status = domain.OrderStatusPartial
	}

	cost := req.Price * float64(fillSize)

	v.mu.Lock()
	defer v.mu.Unlock()
	if req.Side.IsBuy() {
		if cost > v.balance {
			return "", fmt.Errorf("sim: cost %.2f exceeds paper balance %.2f: %w", cost, v.balance, domain.ErrVenueRejected)
		}
		v.balance -= cost
	} else {
		v.balance += cost
	}

	orderID := "sim-" + uuid.NewString()
	v.orders[orderID] = domain.OrderState{
		OrderID:    orderID,
		Status:     status,
		FilledSize: fillSize,
		AvgPrice:   req.Price,
	}
	v.logger.Info("simulated order",
		"order_id", orderID, "instrument", req.Instrument, "side", req.Side,
		"size", req.Size, "filled", fillSize, "price", req.Price, "balance", v.balance)
	return orderID, nil
}

// GetOrder returns the simulated order state.
func (v *Venue) GetOrder(_ context.Context, orderID string) (domain.OrderState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.orders[orderID]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("sim: order %s: %w", orderID, domain.ErrNotFound)
	}
	return state, nil
}

// CancelOrder marks a partially filled order canceled. Fully filled orders
// reject the cancel the way a real venue would.
func (v *Venue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: order %s: %w", orderID, domain.ErrNotFound)
	}
	if state.Status == domain.OrderStatusFilled {
		return fmt.Errorf("sim: order %s already filled: %w", orderID, domain.ErrVenueRejected)
	}
	state.Status = domain.OrderStatusCanceled
	v.orders[orderID] = state
	return nil
}

// latency draws from a normal distribution centered on AvgLatency with a
// quarter-mean standard deviation, clamped to non-negative.
func (v *Venue) latency() time.Duration {
	if v.opts.AvgLatency <= 0 {
		return 0
	}
	mean := float64(v.opts.AvgLatency)
	d := time.Duration(mean + v.normFloat()*mean/4)
	if d < 0 {
		return 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
