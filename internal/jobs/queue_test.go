package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
)

func TestNextReturnsHighestPriorityFirstFIFOWithinRank(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	q := NewQueue(fc, nil)

	q.Add(TypeSingleAnalysis, "low1", AddOptions{Priority: PriorityLow})
	fc.Advance(time.Millisecond)
	q.Add(TypeSingleAnalysis, "high1", AddOptions{Priority: PriorityHigh})
	fc.Advance(time.Millisecond)
	q.Add(TypeSingleAnalysis, "high2", AddOptions{Priority: PriorityHigh})
	fc.Advance(time.Millisecond)
	q.Add(TypeSingleAnalysis, "critical1", AddOptions{Priority: PriorityCritical})

	order := []string{}
	for i := 0; i < 4; i++ {
		j := q.Next()
		if j == nil {
			t.Fatalf("expected a job at step %d", i)
		}
		order = append(order, j.Data.(string))
	}

	want := []string{"critical1", "high1", "high2", "low1"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestAddWithDuplicateDedupKeyReturnsExisting(t *testing.T) {
	q := NewQueue(clock.NewFake(time.Unix(0, 0)), nil)

	first := q.Add(TypeSingleAnalysis, "a", AddOptions{DedupKey: "mint:ABC"})
	second := q.Add(TypeSingleAnalysis, "b", AddOptions{DedupKey: "mint:ABC"})

	if first.ID != second.ID {
		t.Fatalf("expected same job for duplicate dedup key, got %s vs %s", first.ID, second.ID)
	}
	if second.Data != "a" {
		t.Fatalf("expected existing job's data to be preserved, got %v", second.Data)
	}
}

func TestFailReschedulesWithBackoffUntilMaxAttempts(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	q := NewQueue(fc, nil)

	job := q.Add(TypeSingleAnalysis, "x", AddOptions{MaxAttempts: 2})

	got := q.Next()
	if got == nil || got.ID != job.ID {
		t.Fatal("expected to dequeue the job")
	}
	if err := q.Fail(job.ID, errors.New("boom")); err != nil {
		t.Fatalf("expected first failure to reschedule without error, got %v", err)
	}

	stored, _ := q.Get(job.ID)
	if stored.State != StateDelayed {
		t.Fatalf("expected delayed state after first failure, got %v", stored.State)
	}

	if q.Next() != nil {
		t.Fatal("expected no ready job before delay elapses")
	}

	fc.Advance(2 * time.Second)
	got = q.Next()
	if got == nil || got.ID != job.ID {
		t.Fatal("expected the job to become ready after its delay elapses")
	}

	err := q.Fail(job.ID, errors.New("boom again"))
	if !errors.Is(err, ErrMaxAttemptsExceeded) {
		t.Fatalf("expected ErrMaxAttemptsExceeded on second failure, got %v", err)
	}
	stored, _ = q.Get(job.ID)
	if stored.State != StateFailed {
		t.Fatalf("expected terminal failed state, got %v", stored.State)
	}
}

func TestDelayedJobNotReadyUntilDue(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	q := NewQueue(fc, nil)

	q.Add(TypeSingleAnalysis, "delayed", AddOptions{Delay: 10 * time.Second})

	if q.Next() != nil {
		t.Fatal("expected delayed job to not be ready immediately")
	}
	fc.Advance(10 * time.Second)
	if q.Next() == nil {
		t.Fatal("expected delayed job to become ready once its delay elapses")
	}
}

func TestCompleteMarksTerminalState(t *testing.T) {
	q := NewQueue(clock.NewFake(time.Unix(0, 0)), nil)
	job := q.Add(TypeSingleAnalysis, "x", AddOptions{})
	q.Next()
	q.Complete(job.ID, "ok")

	stored, _ := q.Get(job.ID)
	if stored.State != StateCompleted || stored.Result != "ok" {
		t.Fatalf("expected completed state with result, got %+v", stored)
	}
}
