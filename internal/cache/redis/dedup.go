package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper records execution attempts so a restarted process (or a second
// instance pointed at the same account) does not re-fire an opportunity the
// in-memory dedupe window has already seen.
//
// Key schema:
//
//	dedup:{pairKey}|{strategy} - "1" with the window as TTL
type Deduper struct {
	rdb    *redis.Client
	window time.Duration
}

// NewDeduper creates a Deduper with the given dedupe window.
func NewDeduper(c *Client, window time.Duration) *Deduper {
	return &Deduper{rdb: c.Underlying(), window: window}
}

func dedupKey(pairKey, strategy string) string {
	return "dedup:" + pairKey + "|" + strategy
}

// Claim atomically claims the (pairKey, strategy) slot. It returns true when
// this caller won the slot and false when another attempt inside the window
// already holds it.
func (d *Deduper) Claim(ctx context.Context, pairKey, strategy string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKey(pairKey, strategy), "1", d.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup claim %s|%s: %w", pairKey, strategy, err)
	}
	return ok, nil
}

// Release frees the slot early, letting a failed attempt retry before the
// window expires.
func (d *Deduper) Release(ctx context.Context, pairKey, strategy string) error {
	if err := d.rdb.Del(ctx, dedupKey(pairKey, strategy)).Err(); err != nil {
		return fmt.Errorf("redis: dedup release %s|%s: %w", pairKey, strategy, err)
	}
	return nil
}
