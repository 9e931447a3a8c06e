package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
	tickers []*fakeTicker
}

// NewFake creates a Fake clock starting at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

type fakeTicker struct {
	period   time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
	stopOnce sync.Once
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	deadline := f.now.Add(d)
	if d <= 0 {
		f.mu.Unlock()
		ch <- deadline
		return ch
	}
	f.waiters = append(f.waiters, waiter{deadline: deadline, ch: ch})
	f.mu.Unlock()
	return ch
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time, 1), period: d}
	f.mu.Lock()
	t.next = f.now.Add(d)
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.stopOnce.Do(func() { t.stopped = true })
}

// Advance moves the fake clock forward by d, firing any waiters and tickers
// whose deadline has passed. A ticker may fire more than once per Advance.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.now.Add(d)
	f.now = target

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.deadline.After(target) {
			select {
			case w.ch <- target:
			default:
			}
			continue
		}
		remaining = append(remaining, w)
	}
	f.waiters = remaining

	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(target) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}
