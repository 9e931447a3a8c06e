package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
)

func TestExactly100TicketsBlocksThe101st(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	l := New(fc, 100, 60*time.Second, nil)

	for i := 0; i < 100; i++ {
		if !l.CanSubscribe() {
			t.Fatalf("ticket %d: expected CanSubscribe true", i)
		}
		l.Record("conn-a")
	}

	if l.CanSubscribe() {
		t.Fatal("expected CanSubscribe false at 100 tickets in window")
	}
}

func Test101stUnblocksOnlyAfterOldestAges(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	l := New(fc, 100, 60*time.Second, nil)

	for i := 0; i < 100; i++ {
		l.Record("conn-a")
		fc.Advance(10 * time.Millisecond)
	}

	if l.CanSubscribe() {
		t.Fatal("window should be full")
	}

	// Advance to just before the oldest ticket ages out: still blocked.
	fc.Advance(60*time.Second - 100*10*time.Millisecond - time.Millisecond)
	if l.CanSubscribe() {
		t.Fatal("expected still blocked just before oldest ticket expires")
	}

	// Advance past it: unblocked.
	fc.Advance(2 * time.Millisecond)
	if !l.CanSubscribe() {
		t.Fatal("expected unblocked once oldest ticket aged out")
	}
}

func TestWaitForSlotUnblocksWithoutBusyLoop(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	l := New(fc, 1, 60*time.Second, nil)
	l.Record("conn-a")

	done := make(chan error, 1)
	go func() {
		done <- l.WaitForSlot(context.Background())
	}()

	// Give the goroutine a moment to block on the first After() call, then
	// advance past the window.
	time.Sleep(10 * time.Millisecond)
	fc.Advance(60*time.Second + time.Millisecond)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSlot did not unblock")
	}
}

func TestWaitForSlotRespectsContextCancellation(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	l := New(fc, 1, 60*time.Second, nil)
	l.Record("conn-a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.WaitForSlot(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSlot did not respect cancellation")
	}
}
