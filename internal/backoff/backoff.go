// Package backoff implements the single exponentialBackoff(base, cap,
// attempt) helper the design notes call for, reused identically by the
// stream manager's resubscribe logic (C5) and the job queue's retry
// policy (C9).
package backoff

import (
	"math/rand"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
)

// Exponential returns base * 2^(attempt-1), capped at cap, with up to 20%
// jitter applied to avoid reconnect/retry stampedes. attempt is 1-indexed:
// attempt 1 returns ~base.
func Exponential(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}
	return jitter(d)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.2
	delta := (rand.Float64()*2 - 1) * spread
	out := time.Duration(float64(d) + delta)
	if out < 0 {
		return 0
	}
	return out
}

// NewPolicy returns a cenkalti/backoff policy configured with the given base
// interval and cap, for components that want a full ExponentialBackOff
// rather than the single-call Exponential helper (e.g. external holder-API
// retries that also want a max elapsed time).
func NewPolicy(base, cap, maxElapsed time.Duration) *cenkalti.ExponentialBackOff {
	b := cenkalti.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = cap
	b.MaxElapsedTime = maxElapsed
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}
