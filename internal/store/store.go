// Package store declares the narrow persistence contract streamcore's core
// depends on (§6's tabular data). internal/store/postgres is one reference
// implementation; tests and cmd/streamcored wiring may substitute any other
// implementation, including an in-memory one.
package store

import (
	"context"
	"time"
)

// TokenRecord is the persisted view of a discovered token (§3's Token
// entity), including its bonding-curve-to-pool graduation state machine.
type TokenRecord struct {
	Mint            string
	Symbol          string
	Name            string
	Creator         string
	FirstSeenAt     time.Time
	MarketCapUSD    float64
	GraduatedToPool bool
	GraduationAt    *time.Time
	PoolTradeCount  int64
}

// TradeRecord is one parsed trade event (C6 output) ready for persistence.
type TradeRecord struct {
	Signature string
	Slot      uint64
	Mint      string
	Trader    string
	IsBuy     bool
	AmountIn  uint64
	AmountOut uint64
	At        time.Time
	Source    string // "bonding_curve" | "pool" | dex label
}

// SlotSummary is the persisted view of a SlotRecord (C7).
type SlotSummary struct {
	Slot         uint64
	ParentSlot   uint64
	Status       string
	TxCount      int
	SuccessCount int
	FailCount    int
	ForkDetected bool
}

// TokenStore persists and looks up Token records.
type TokenStore interface {
	UpsertToken(ctx context.Context, t TokenRecord) error
	GetToken(ctx context.Context, mint string) (TokenRecord, bool, error)
	MarkGraduated(ctx context.Context, mint string, at time.Time) error
	// IncrementPoolTradeCount atomically bumps a token's PoolTradeCount and
	// returns the count after the increment, so the caller can tell whether
	// this was the mint's first observed pool trade (graduation §8
	// scenario 6) without a separate read-then-write race.
	IncrementPoolTradeCount(ctx context.Context, mint string) (int64, error)
}

// TradeStore persists parsed trade events, deduplicated by (signature, slot).
type TradeStore interface {
	InsertTrade(ctx context.Context, t TradeRecord) error
}

// SlotStore persists per-slot summaries. It has no method for slot gaps;
// those live only in the block tracker's memory.
type SlotStore interface {
	UpsertSlot(ctx context.Context, s SlotSummary) error
}

// SnapshotStore persists holder-analysis snapshots, keyed by mint, with
// hash-based dedup against the most recent snapshot for that mint.
type SnapshotStore interface {
	LatestSnapshot(ctx context.Context, mint string) (Snapshot, bool, error)
	SaveSnapshot(ctx context.Context, s Snapshot) error
}

// Snapshot is the storage-layer shape of holder.HolderSnapshot; kept
// independent of the holder package so store has no dependency on it.
type Snapshot struct {
	Mint               string
	CapturedAt         time.Time
	TotalHolders       int
	Gini               float64
	HHI                float64
	Top10Pct           float64
	Top25Pct           float64
	Top100Pct          float64
	MedianHoldDuration time.Duration
	MeanHoldDuration   time.Duration
	Score              float64
	ScoreBreakdown     map[string]float64
	ContentHash        string
}

// JobRecord is the optional persisted view of a Job (C9), written only when
// a JobStore implementation is configured; streamcore runs fine with jobs
// held only in memory.
type JobRecord struct {
	ID          string
	Type        string
	State       string
	Priority    string
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	LastError   string
}

// JobStore persists non-terminal jobs across restarts. cmd/streamcored
// wires no JobStore and the job queue never calls one, so non-terminal
// jobs are discarded on shutdown.
type JobStore interface {
	SaveJob(ctx context.Context, j JobRecord) error
	LoadPending(ctx context.Context) ([]JobRecord, error)
}
