// Package ratelimit implements the upstream subscription-creation cap (C1)
// and a generic sliding-window limiter reused for the external holder-data
// APIs (§6).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
)

// pollInterval is the cadence waitForSlot polls at, kept coarse enough
// not to busy-loop.
const pollInterval = 500 * time.Millisecond

// ticket is a single subscription-creation record (spec.md §3
// SubscriptionTicket).
type ticket struct {
	at           time.Time
	connectionID string
}

// SubscriptionLimiter enforces the upstream cap: at most max subscription
// creations within any trailing window. It cannot fail — canSubscribe and
// waitForSlot only ever report or delay, they never return an error.
type SubscriptionLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	max     int
	window  time.Duration
	tickets []ticket
	reg     *metrics.Registry
}

// New constructs a SubscriptionLimiter. max defaults to 100 and window to
// 60s if either is zero, matching spec.md §6 defaults. reg may be nil, in
// which case the limiter simply doesn't record its metrics.
func New(clk clock.Clock, max int, window time.Duration, reg *metrics.Registry) *SubscriptionLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	if max <= 0 {
		max = 100
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &SubscriptionLimiter{clock: clk, max: max, window: window, reg: reg}
}

// CanSubscribe reports whether a new subscription can be created right now,
// pruning expired tickets first.
func (l *SubscriptionLimiter) CanSubscribe() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	ok := len(l.tickets) < l.max
	if !ok && l.reg != nil {
		l.reg.RateLimiterRejected.Inc()
	}
	return ok
}

// Record appends a subscription-creation ticket, in the caller's
// acquisition order. Callers must have already confirmed CanSubscribe (or
// gone through WaitForSlot); Record itself does not enforce the cap, it
// only books it — matching the design note that accounting happens at
// request dispatch.
func (l *SubscriptionLimiter) Record(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.prune(now)
	l.tickets = append(l.tickets, ticket{at: now, connectionID: connectionID})
}

// WaitForSlot blocks, polling at a fixed cadence, until CanSubscribe would
// return true or ctx is done. It never busy-loops.
func (l *SubscriptionLimiter) WaitForSlot(ctx context.Context) error {
	start := l.clock.Now()
	if l.CanSubscribe() {
		l.observeWait(start)
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(pollInterval):
			if l.CanSubscribe() {
				l.observeWait(start)
				return nil
			}
		}
	}
}

func (l *SubscriptionLimiter) observeWait(start time.Time) {
	if l.reg != nil {
		l.reg.RateLimiterWaitSeconds.Observe(l.clock.Now().Sub(start).Seconds())
	}
}

// prune removes every ticket older than now-window. Callers must hold mu.
func (l *SubscriptionLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.tickets) && !l.tickets[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.tickets = l.tickets[i:]
	}
}

// Count returns the number of tickets currently inside the window, for
// metrics/diagnostics.
func (l *SubscriptionLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	return len(l.tickets)
}
