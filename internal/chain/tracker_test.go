package chain

import (
	"testing"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/eventbus"
)

func rec(slot, parent uint64, t time.Time) SlotRecord {
	return SlotRecord{Slot: slot, ParentSlot: parent, BlockTime: t, Status: StatusProcessed, TxCount: 1, SuccessCount: 1}
}

func TestStatusNeverRegresses(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tr := NewTracker(fc, nil, nil, nil)

	tr.Update(SlotRecord{Slot: 1, ParentSlot: 0, Status: StatusFinalized, BlockTime: fc.Now()})
	tr.Update(SlotRecord{Slot: 1, ParentSlot: 0, Status: StatusProcessed, BlockTime: fc.Now()})

	got, ok := tr.Record(1)
	if !ok {
		t.Fatal("expected record 1 to exist")
	}
	if got.Status != StatusFinalized {
		t.Fatalf("expected status to stay finalized, got %v", got.Status)
	}
}

func TestStatusRegressionPublishesAlert(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	bus := eventbus.New(nil)

	var got RegressionAlert
	fired := 0
	bus.Subscribe(eventbus.TopicAlertCreated, func(event any) {
		fired++
		got = event.(RegressionAlert)
	})

	tr := NewTracker(fc, nil, bus, nil)
	tr.Update(SlotRecord{Slot: 7, ParentSlot: 6, Status: StatusFinalized, BlockTime: fc.Now()})
	tr.Update(SlotRecord{Slot: 7, ParentSlot: 6, Status: StatusProcessed, BlockTime: fc.Now()})

	if fired != 1 {
		t.Fatalf("expected exactly 1 alert published, got %d", fired)
	}
	if got.Slot != 7 || got.From != StatusFinalized || got.To != StatusProcessed {
		t.Fatalf("unexpected alert payload: %+v", got)
	}

	rec, ok := tr.Record(7)
	if !ok || rec.Status != StatusFinalized {
		t.Fatalf("expected status to stay finalized despite the regression attempt, got %+v ok=%v", rec, ok)
	}
}

func TestRejectsParentSlotNotLessThanSlot(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tr := NewTracker(fc, nil, nil, nil)

	tr.Update(SlotRecord{Slot: 5, ParentSlot: 5, Status: StatusProcessed, BlockTime: fc.Now()})

	if _, ok := tr.Record(5); ok {
		t.Fatal("expected record violating parentSlot < slot to be rejected")
	}
}

// TestGapThenForkScenario mirrors the worked example: 1000,1001,1002 arrive
// contiguously, then 1010 (parentSlot=1002) opens a leader_skip gap, then
// 1011 arrives contiguously on top of 1010 but with parentSlot=1005 -
// a fork must still be detected even though there is no numeric gap between
// 1010 and 1011.
func TestGapThenForkScenario(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tr := NewTracker(fc, nil, nil, nil)

	base := fc.Now()
	tr.Update(rec(1000, 999, base))
	tr.Update(rec(1001, 1000, base.Add(time.Second)))
	tr.Update(rec(1002, 1001, base.Add(2*time.Second)))

	tr.Update(rec(1010, 1002, base.Add(3*time.Second)))

	gaps := tr.Gaps()
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap after 1010, got %d", len(gaps))
	}
	if gaps[0].Reason != ReasonLeaderSkip {
		t.Fatalf("expected leader_skip reason, got %v", gaps[0].Reason)
	}
	if gaps[0].StartSlot != 1003 || gaps[0].EndSlot != 1009 || gaps[0].MissedSlots != 7 {
		t.Fatalf("unexpected gap bounds: %+v", gaps[0])
	}

	tr.Update(rec(1011, 1005, base.Add(4*time.Second)))

	gaps = tr.Gaps()
	if len(gaps) != 1 {
		t.Fatalf("expected no additional gap for the contiguous-but-forked slot 1011, got %d gaps", len(gaps))
	}

	// Slots 1006..1009 lie in the leader-skip gap and were never fed, so
	// 1010 is the only tracked record after the fork point 1005.
	for s := uint64(1006); s <= 1009; s++ {
		if _, ok := tr.Record(s); ok {
			t.Fatalf("expected no record for never-fed slot %d", s)
		}
	}
	r, ok := tr.Record(1010)
	if !ok {
		t.Fatal("expected record for slot 1010")
	}
	if !r.ForkDetected {
		t.Fatal("expected slot 1010 to be marked forkDetected")
	}

	if r, ok := tr.Record(1011); !ok || r.ForkDetected {
		t.Fatalf("slot 1011 itself should not be marked forkDetected, got %+v ok=%v", r, ok)
	}
	if r, ok := tr.Record(1002); !ok || r.ForkDetected {
		t.Fatalf("fork point 1002/1005 boundary should not mark the fork point itself, got %+v ok=%v", r, ok)
	}
}

func TestStatsComputedOverLastHundredRecords(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tr := NewTracker(fc, nil, nil, nil)

	base := fc.Now()
	for i := uint64(1); i <= 150; i++ {
		r := rec(i, i-1, base.Add(time.Duration(i)*time.Second))
		r.TxCount = 10
		r.SuccessCount = 9
		r.FailCount = 1
		tr.Update(r)
	}

	stats := tr.ComputeStats()
	if stats.AvgTransactionsPerBlock != 10 {
		t.Fatalf("expected avg tx per block 10, got %v", stats.AvgTransactionsPerBlock)
	}
	if stats.SlotSuccessRate < 0.89 || stats.SlotSuccessRate > 0.91 {
		t.Fatalf("expected slot success rate ~0.9, got %v", stats.SlotSuccessRate)
	}
	if stats.AvgBlockTime != time.Second {
		t.Fatalf("expected avg block time 1s, got %v", stats.AvgBlockTime)
	}
}
