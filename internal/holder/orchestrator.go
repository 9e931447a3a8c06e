package holder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
	"github.com/pumpfun-indexer/streamcore/internal/ratelimit"
	"github.com/pumpfun-indexer/streamcore/internal/store"
)

const (
	freshnessWindow      = 60 * time.Minute
	classificationTTL    = 24 * time.Hour
	maxClassifiedWallets = 100
	apiTimeout           = 30 * time.Second
	enumerationTimeout   = 60 * time.Second
)

// Orchestrator runs the C12 pipeline: freshness check, tiered fetch,
// classification, distribution metrics, scoring, hash-deduped persistence.
type Orchestrator struct {
	fetcher    *TieredFetcher
	classifier Classifier
	cache      ClassificationCache
	scorer     ScoreCalculator
	snapshots  store.SnapshotStore
	limiter    *ratelimit.WindowLimiter

	clk clock.Clock
	log *zap.Logger
	reg *metrics.Registry
}

// NewOrchestrator wires every C12 collaborator together.
func NewOrchestrator(fetcher *TieredFetcher, classifier Classifier, cache ClassificationCache, scorer ScoreCalculator, snapshots store.SnapshotStore, limiter *ratelimit.WindowLimiter, clk clock.Clock, log *zap.Logger, reg *metrics.Registry) *Orchestrator {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if scorer == nil {
		scorer = DefaultScoreCalculator{}
	}
	return &Orchestrator{
		fetcher:    fetcher,
		classifier: classifier,
		cache:      cache,
		scorer:     scorer,
		snapshots:  snapshots,
		limiter:    limiter,
		clk:        clk,
		log:        log,
		reg:        reg,
	}
}

// Analyze runs the full pipeline for one mint (§4.12 steps 1-6).
func (o *Orchestrator) Analyze(ctx context.Context, mint string, forceRefresh bool) (HolderSnapshot, bool, error) {
	if !forceRefresh && o.snapshots != nil {
		if prior, ok, err := o.snapshots.LatestSnapshot(ctx, mint); err == nil && ok {
			if o.clk.Now().Sub(prior.CapturedAt) < freshnessWindow {
				return snapshotFromStore(prior), false, nil
			}
		}
	}

	start := o.clk.Now()
	balances, tier, err := o.fetchWithTimeout(ctx, mint, FetchOptions{MaxHolders: 5000, EnableFallback: true})
	if o.reg != nil {
		o.reg.HolderFetchLatency.WithLabelValues(string(tier)).Observe(o.clk.Now().Sub(start).Seconds())
	}
	if err != nil {
		return HolderSnapshot{}, false, fmt.Errorf("holder: fetch: %w", err)
	}

	classifications := o.classifyTopWallets(ctx, balances)

	dist := ComputeDistribution(balances, o.clk.Now())
	total, breakdown := o.scorer.Score(dist, classifications)

	snapshot := HolderSnapshot{
		Mint:               mint,
		CapturedAt:         o.clk.Now(),
		TotalHolders:       dist.TotalHolders,
		Gini:               dist.Gini,
		HHI:                dist.HHI,
		Top10Pct:           dist.Top10Pct,
		Top25Pct:           dist.Top25Pct,
		Top100Pct:          dist.Top100Pct,
		MedianHoldDuration: dist.MedianHoldDuration,
		MeanHoldDuration:   dist.MeanHoldDuration,
		Score:              total,
		ScoreBreakdown:     breakdown,
	}
	snapshot.ContentHash = contentHash(snapshot)

	persisted := false
	if o.snapshots != nil {
		prior, hasPrior, _ := o.snapshots.LatestSnapshot(ctx, mint)
		if !hasPrior || prior.ContentHash != snapshot.ContentHash {
			if err := o.snapshots.SaveSnapshot(ctx, snapshotToStore(snapshot)); err != nil {
				return HolderSnapshot{}, false, fmt.Errorf("holder: save snapshot: %w", err)
			}
			if o.reg != nil {
				o.reg.SnapshotsWritten.Inc()
			}
			persisted = true
		}
	}

	return snapshot, persisted, nil
}

func (o *Orchestrator) fetchWithTimeout(ctx context.Context, mint string, opts FetchOptions) ([]Balance, SourceTier, error) {
	ctx, cancel := context.WithTimeout(ctx, enumerationTimeout)
	defer cancel()
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, string(opts.PreferredSource)); err != nil {
			return nil, "", err
		}
	}
	return o.fetcher.Fetch(ctx, mint, opts)
}

func (o *Orchestrator) classifyTopWallets(ctx context.Context, balances []Balance) map[string]WalletClassification {
	out := make(map[string]WalletClassification)
	if o.classifier == nil {
		return out
	}
	limit := maxClassifiedWallets
	if limit > len(balances) {
		limit = len(balances)
	}
	for i := 0; i < limit; i++ {
		wallet := balances[i].Wallet
		if o.cache != nil {
			if cached, ok, err := o.cache.Get(ctx, wallet); err == nil && ok {
				out[wallet] = cached
				continue
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, apiTimeout)
		category, confidence, err := o.classifier.Classify(callCtx, wallet)
		cancel()
		if err != nil {
			o.log.Warn("wallet classification failed", zap.String("wallet", wallet), zap.Error(err))
			continue
		}
		wc := WalletClassification{Wallet: wallet, Category: category, Confidence: confidence, ClassifiedAt: o.clk.Now()}
		out[wallet] = wc
		if o.cache != nil {
			_ = o.cache.Set(ctx, wc, classificationTTL)
		}
	}
	return out
}

func contentHash(s HolderSnapshot) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%.6f|%.6f|%.6f|%.6f|%.6f|%.2f", s.Mint, s.TotalHolders, s.Gini, s.HHI, s.Top10Pct, s.Top25Pct, s.Top100Pct, s.Score)
	return hex.EncodeToString(h.Sum(nil))
}

func snapshotToStore(s HolderSnapshot) store.Snapshot {
	return store.Snapshot{
		Mint: s.Mint, CapturedAt: s.CapturedAt, TotalHolders: s.TotalHolders, Gini: s.Gini, HHI: s.HHI,
		Top10Pct: s.Top10Pct, Top25Pct: s.Top25Pct, Top100Pct: s.Top100Pct,
		MedianHoldDuration: s.MedianHoldDuration, MeanHoldDuration: s.MeanHoldDuration,
		Score: s.Score, ScoreBreakdown: s.ScoreBreakdown, ContentHash: s.ContentHash,
	}
}

func snapshotFromStore(s store.Snapshot) HolderSnapshot {
	return HolderSnapshot{
		Mint: s.Mint, CapturedAt: s.CapturedAt, TotalHolders: s.TotalHolders, Gini: s.Gini, HHI: s.HHI,
		Top10Pct: s.Top10Pct, Top25Pct: s.Top25Pct, Top100Pct: s.Top100Pct,
		MedianHoldDuration: s.MedianHoldDuration, MeanHoldDuration: s.MeanHoldDuration,
		Score: s.Score, ScoreBreakdown: s.ScoreBreakdown, ContentHash: s.ContentHash,
	}
}

// TrendUpdate is the lighter-weight path (§4.10): it recomputes
// distribution metrics from a fresh fetch but skips classification and
// snapshot persistence entirely.
func (o *Orchestrator) TrendUpdate(ctx context.Context, mint string) (HolderSnapshot, error) {
	balances, tier, err := o.fetchWithTimeout(ctx, mint, FetchOptions{MaxHolders: 5000, EnableFallback: true})
	if o.reg != nil {
		o.reg.HolderFetchLatency.WithLabelValues(string(tier)).Observe(0)
	}
	if err != nil {
		return HolderSnapshot{}, fmt.Errorf("holder: trend fetch: %w", err)
	}
	dist := ComputeDistribution(balances, o.clk.Now())
	return HolderSnapshot{
		Mint: mint, CapturedAt: o.clk.Now(), TotalHolders: dist.TotalHolders, Gini: dist.Gini, HHI: dist.HHI,
		Top10Pct: dist.Top10Pct, Top25Pct: dist.Top25Pct, Top100Pct: dist.Top100Pct,
		MedianHoldDuration: dist.MedianHoldDuration, MeanHoldDuration: dist.MeanHoldDuration,
	}, nil
}
