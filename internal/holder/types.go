// Package holder implements the holder analysis orchestrator (C12): fetch
// via a tiered source strategy, classify wallets, compute distribution
// metrics, score, and persist a snapshot when it differs from the last one.
package holder

import "time"

// Balance is one wallet's position in a mint at fetch time.
type Balance struct {
	Wallet string
	Amount float64
	SinceFirstSeen time.Time
}

// SourceTier names which tiered fetcher produced a holder list.
type SourceTier string

const (
	SourceRPC      SourceTier = "rpc"
	SourceEnhanced SourceTier = "enhanced"
	SourceComplete SourceTier = "complete"
)

// FetchOptions configures tiered holder enumeration (§4.12 step 2).
type FetchOptions struct {
	PreferredSource SourceTier
	MaxHolders      int
	EnableFallback  bool
}

// HolderSnapshot is the persisted distribution-metrics record for one mint
// at one point in time.
type HolderSnapshot struct {
	Mint                string
	CapturedAt          time.Time
	TotalHolders        int
	Gini                float64
	HHI                 float64
	Top10Pct            float64
	Top25Pct            float64
	Top100Pct           float64
	MedianHoldDuration  time.Duration
	MeanHoldDuration    time.Duration
	Score               float64
	ScoreBreakdown      map[string]float64
	ContentHash         string
}

// WalletCategory is a classifier's label for a wallet's behavior.
type WalletCategory string

const (
	CategoryUnknown    WalletCategory = "unknown"
	CategoryWhale      WalletCategory = "whale"
	CategoryBot        WalletCategory = "bot"
	CategoryRetail     WalletCategory = "retail"
	CategoryInsider    WalletCategory = "insider"
	CategoryLiquidity  WalletCategory = "liquidity_provider"
)

// WalletClassification is a cached per-wallet classification result.
type WalletClassification struct {
	Wallet       string
	Category     WalletCategory
	Confidence   float64
	ClassifiedAt time.Time
}
