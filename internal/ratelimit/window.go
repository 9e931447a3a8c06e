package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
)

// WindowLimiter is a generic per-key sliding-window limiter used by the
// external holder-data APIs (§6: 10 requests/second per endpoint). It has
// the same sliding-window shape as SubscriptionLimiter but is keyed, since
// each endpoint needs its own independent window.
type WindowLimiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	limit  int
	window time.Duration
	ticks  map[string][]time.Time
}

// NewWindowLimiter builds a limiter allowing up to limit calls per window,
// per key.
func NewWindowLimiter(clk clock.Clock, limit int, window time.Duration) *WindowLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &WindowLimiter{clock: clk, limit: limit, window: window, ticks: make(map[string][]time.Time)}
}

// Allow reports whether key may proceed right now without recording a call.
func (w *WindowLimiter) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	w.prune(key, now)
	return len(w.ticks[key]) < w.limit
}

// Record books a call against key at the current time.
func (w *WindowLimiter) Record(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	w.prune(key, now)
	w.ticks[key] = append(w.ticks[key], now)
}

// Wait blocks until a call against key would be allowed, then records it.
// The holder orchestrator calls it once per tiered fetch, not once per
// source call within that fetch.
func (w *WindowLimiter) Wait(ctx context.Context, key string) error {
	for {
		w.mu.Lock()
		now := w.clock.Now()
		w.prune(key, now)
		if len(w.ticks[key]) < w.limit {
			w.ticks[key] = append(w.ticks[key], now)
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(pollInterval):
		}
	}
}

func (w *WindowLimiter) prune(key string, now time.Time) {
	cutoff := now.Add(-w.window)
	ticks := w.ticks[key]
	i := 0
	for i < len(ticks) && !ticks[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.ticks[key] = ticks[i:]
	}
}
