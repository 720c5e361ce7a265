package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrStaleBook        = errors.New("orderbook stale")
	ErrEmptyBook        = errors.New("orderbook empty")
	ErrNoLiquidity      = errors.New("insufficient liquidity at target price")
	ErrRiskRejected     = errors.New("risk limit rejected")
	ErrKillSwitch       = errors.New("kill switch active")
	ErrVenueRejected    = errors.New("venue rejected order")
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrExpired          = errors.New("opportunity expired")
	ErrUnwindFailed     = errors.New("unwind failed")
)
