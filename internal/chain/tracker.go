// Package chain implements the block/slot tracker (C7): slot progression,
// gap and fork detection, and confirmed/finalized promotion.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/eventbus"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
)

// SlotStatus is the lattice processed < confirmed < finalized.
type SlotStatus int

const (
	StatusProcessed SlotStatus = iota
	StatusConfirmed
	StatusFinalized
)

// GapReason classifies why a SlotGap was appended.
type GapReason string

const (
	ReasonFork         GapReason = "fork"
	ReasonLeaderSkip   GapReason = "leader_skip"
	ReasonNetworkIssue GapReason = "network_issue"
)

// SlotRecord is spec.md §3's per-slot record.
type SlotRecord struct {
	Slot          uint64
	ParentSlot    uint64
	BlockHeight   uint64
	BlockTime     time.Time
	Status        SlotStatus
	TxCount       int
	SuccessCount  int
	FailCount     int
	FeeRewards    uint64
	Leader        string
	Hash          string
	ForkDetected  bool
}

// SlotGap is appended, never mutated, when the observed slot stream skips.
type SlotGap struct {
	StartSlot    uint64
	EndSlot      uint64
	Duration     time.Duration
	MissedSlots  uint64
	Reason       GapReason
	DetectedAt   time.Time
}

// ForkEvent carries the detail of a detected fork.
type ForkEvent struct {
	Slot       uint64
	ParentSlot uint64
	ForkPoint  uint64
}

// ErrStatusRegression is returned (and never applied) when an update would
// downgrade a slot's status.
var ErrStatusRegression = errors.New("chain: status regression rejected")

// RegressionAlert is published on TopicAlertCreated when Update observes a
// slot moving backwards in the processed < confirmed < finalized lattice —
// a data-integrity error (spec.md §7), distinct from a fork.
type RegressionAlert struct {
	Slot     uint64
	From     SlotStatus
	To       SlotStatus
	DetectedAt time.Time
}

const retentionWindow = time.Hour
const statsSampleSize = 100

// Tracker maintains an ordered mapping slot -> SlotRecord, capped by time;
// records past the retention window are evicted on every Update.
type Tracker struct {
	mu      sync.Mutex
	records map[uint64]*SlotRecord
	order   []uint64 // ascending slot order for eviction/stats

	currentSlot   uint64
	lastProcessed uint64
	lastConfirmed uint64
	lastFinalized uint64
	gaps          []SlotGap

	clock clock.Clock
	log   *zap.Logger
	bus   *eventbus.Bus
	reg   *metrics.Registry
}

// NewTracker constructs a Tracker.
func NewTracker(clk clock.Clock, log *zap.Logger, bus *eventbus.Bus, reg *metrics.Registry) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		records: make(map[uint64]*SlotRecord),
		clock:   clk,
		log:     log,
		bus:     bus,
		reg:     reg,
	}
}

// Update applies an observed slot record, detecting gaps and forks per
// spec.md §4.7.
func (t *Tracker) Update(rec SlotRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.ParentSlot >= rec.Slot && rec.Slot != 0 {
		t.log.Warn("rejecting slot record violating parentSlot < slot invariant",
			zap.Uint64("slot", rec.Slot), zap.Uint64("parent_slot", rec.ParentSlot))
		return
	}

	existing, had := t.records[rec.Slot]
	if had {
		if err := t.applyMonotonicUpdate(existing, rec); err != nil {
			t.log.Warn("rejected slot status regression", zap.Error(err),
				zap.Uint64("slot", rec.Slot), zap.Int("from", int(existing.Status)), zap.Int("to", int(rec.Status)))
			if t.reg != nil {
				t.reg.StatusRegressionsTotal.Inc()
			}
			if t.bus != nil {
				t.bus.Publish(eventbus.TopicAlertCreated, RegressionAlert{
					Slot: rec.Slot, From: existing.Status, To: rec.Status, DetectedAt: t.clock.Now(),
				})
			}
		}
	} else {
		cp := rec
		t.records[rec.Slot] = &cp
		t.order = append(t.order, rec.Slot)
		sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
	}

	if rec.Slot > t.currentSlot {
		t.currentSlot = rec.Slot
		if t.reg != nil {
			t.reg.CurrentSlot.Set(float64(rec.Slot))
		}
	}

	t.detectGapOrFork(rec)

	switch rec.Status {
	case StatusFinalized:
		if rec.Slot > t.lastFinalized {
			t.lastFinalized = rec.Slot
		}
		fallthrough
	case StatusConfirmed:
		if rec.Status >= StatusConfirmed && rec.Slot > t.lastConfirmed {
			t.lastConfirmed = rec.Slot
		}
	}

	if rec.Slot > t.lastProcessed {
		t.lastProcessed = rec.Slot
	}

	t.evict()
}

// applyMonotonicUpdate merges rec into existing without ever downgrading
// status; once forkDetected is set it persists. Returns ErrStatusRegression,
// without applying the status field, if rec attempts to move status
// backwards — the rest of rec (tx counts, hash, leader, block time) is still
// merged, since those aren't part of the monotonic lattice.
func (t *Tracker) applyMonotonicUpdate(existing *SlotRecord, rec SlotRecord) error {
	var regressionErr error
	if rec.Status > existing.Status {
		existing.Status = rec.Status
	} else if rec.Status < existing.Status {
		regressionErr = fmt.Errorf("slot %d: %w: have %d, got %d", rec.Slot, ErrStatusRegression, existing.Status, rec.Status)
	}
	if rec.TxCount > 0 {
		existing.TxCount = rec.TxCount
		existing.SuccessCount = rec.SuccessCount
		existing.FailCount = rec.FailCount
	}
	if rec.Hash != "" {
		existing.Hash = rec.Hash
	}
	if rec.Leader != "" {
		existing.Leader = rec.Leader
	}
	if rec.BlockHeight > 0 {
		existing.BlockHeight = rec.BlockHeight
	}
	if !rec.BlockTime.IsZero() {
		existing.BlockTime = rec.BlockTime
	}
	// ForkDetected is sticky: never clear it once set.
	if rec.ForkDetected {
		existing.ForkDetected = true
	}
	return regressionErr
}

// detectGapOrFork implements spec.md §4.7 step 2 and the fork-detection
// scenario in §8: a fork is any parentSlot mismatch against the last
// processed (highest observed) slot, independent of whether the new slot is itself
// numerically contiguous; a gap is any numeric skip. The two can occur
// independently or together.
func (t *Tracker) detectGapOrFork(rec SlotRecord) {
	if t.lastProcessed == 0 {
		return
	}

	isFork := rec.ParentSlot != t.lastProcessed
	hasGap := rec.Slot > t.lastProcessed+1

	if !isFork && !hasGap {
		return
	}

	if hasGap {
		reason := ReasonLeaderSkip
		if isFork {
			reason = ReasonFork
		}
		t.gaps = append(t.gaps, SlotGap{
			StartSlot:   t.lastProcessed + 1,
			EndSlot:     rec.Slot - 1,
			MissedSlots: rec.Slot - t.lastProcessed - 1,
			Reason:      reason,
			DetectedAt:  t.clock.Now(),
		})
		if t.reg != nil {
			t.reg.SlotGapsTotal.Inc()
		}
	}

	if isFork {
		forkPoint := rec.ParentSlot
		if t.reg != nil {
			t.reg.ForksTotal.Inc()
		}
		for s := forkPoint + 1; s < rec.Slot; s++ {
			if r, ok := t.records[s]; ok {
				r.ForkDetected = true
			}
		}
		if t.bus != nil {
			t.bus.Publish(eventbus.TopicChainForkAlert, ForkEvent{Slot: rec.Slot, ParentSlot: rec.ParentSlot, ForkPoint: forkPoint})
		}
		t.log.Warn("fork detected", zap.Uint64("slot", rec.Slot), zap.Uint64("parent_slot", rec.ParentSlot), zap.Uint64("fork_point", forkPoint))
	}
}

// evict drops records older than retentionWindow, keyed by BlockTime.
func (t *Tracker) evict() {
	now := t.clock.Now()
	cutoff := now.Add(-retentionWindow)
	i := 0
	for i < len(t.order) {
		slot := t.order[i]
		rec := t.records[slot]
		if rec.BlockTime.IsZero() || rec.BlockTime.After(cutoff) {
			break
		}
		delete(t.records, slot)
		i++
	}
	if i > 0 {
		t.order = t.order[i:]
	}
}

// Gaps returns every gap appended so far, in append order.
func (t *Tracker) Gaps() []SlotGap {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SlotGap, len(t.gaps))
	copy(out, t.gaps)
	return out
}

// CurrentSlot returns the highest slot observed.
func (t *Tracker) CurrentSlot() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSlot
}

// Record returns the record for a slot, if tracked.
func (t *Tracker) Record(slot uint64) (SlotRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[slot]
	if !ok {
		return SlotRecord{}, false
	}
	return *r, true
}

// Stats holds the aggregate stats computed over the most recent 100
// records (spec.md §4.7).
type Stats struct {
	AvgBlockTime            time.Duration
	AvgTransactionsPerBlock float64
	SlotSuccessRate         float64
}

// ComputeStats computes Stats over the most recent statsSampleSize records.
func (t *Tracker) ComputeStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.order)
	if n == 0 {
		return Stats{}
	}
	start := 0
	if n > statsSampleSize {
		start = n - statsSampleSize
	}
	sample := t.order[start:]

	var totalTx, totalSuccess int
	var prevTime time.Time
	var blockTimeSum time.Duration
	var blockTimeSamples int

	for _, slot := range sample {
		r := t.records[slot]
		totalTx += r.TxCount
		totalSuccess += r.SuccessCount
		if !r.BlockTime.IsZero() {
			if !prevTime.IsZero() && r.BlockTime.After(prevTime) {
				blockTimeSum += r.BlockTime.Sub(prevTime)
				blockTimeSamples++
			}
			prevTime = r.BlockTime
		}
	}

	stats := Stats{AvgTransactionsPerBlock: float64(totalTx) / float64(len(sample))}
	if totalTx > 0 {
		stats.SlotSuccessRate = float64(totalSuccess) / float64(totalTx)
	} else {
		stats.SlotSuccessRate = 1
	}
	if blockTimeSamples > 0 {
		stats.AvgBlockTime = blockTimeSum / time.Duration(blockTimeSamples)
	}
	return stats
}

// RunStatsLoop emits chain:stats_updated every 30s and a warning if
// slotSuccessRate < 0.95.
func (t *Tracker) RunStatsLoop(ctx context.Context) {
	ticker := t.clock.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			stats := t.ComputeStats()
			if t.bus != nil {
				t.bus.Publish(eventbus.TopicChainStatsUpdated, stats)
			}
			if stats.SlotSuccessRate < 0.95 {
				t.log.Warn("slot success rate below threshold", zap.Float64("slot_success_rate", stats.SlotSuccessRate))
			}
		}
	}
}
