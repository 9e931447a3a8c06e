package backoff

import (
	"testing"
	"time"
)

func TestExponentialCapsAndGrows(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := Exponential(base, cap, attempt)
		if d > cap+cap/5+time.Millisecond {
			t.Fatalf("attempt %d exceeded cap+jitter: %v", attempt, d)
		}
		if d < prev/2 && attempt > 1 {
			// ±20% jitter never halves a step: doubling gives at least 1.6/1.2
			// of the previous delay, and at the cap at least 0.8/1.2 of it.
			t.Fatalf("attempt %d = %v dropped below half of attempt %d = %v", attempt, d, attempt-1, prev)
		}
		prev = d
	}
}

func TestExponentialAttemptOneIsRoughlyBase(t *testing.T) {
	d := Exponential(time.Second, 30*time.Second, 1)
	if d < 700*time.Millisecond || d > 1300*time.Millisecond {
		t.Fatalf("attempt 1 = %v, want close to 1s", d)
	}
}
