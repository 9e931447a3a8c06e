package holder

import (
	"context"
	"sync"

	"github.com/pumpfun-indexer/streamcore/internal/jobs"
)

// JobAdapter implements jobs.Analyzer over an Orchestrator, translating
// jobs.AnalysisRequest/AnalysisResult and computing the score/holder/
// concentration deltas recurring_analysis needs to decide significance.
type JobAdapter struct {
	orch *Orchestrator

	mu   sync.Mutex
	last map[string]HolderSnapshot
}

// NewJobAdapter wraps orch for use as a jobs.Analyzer.
func NewJobAdapter(orch *Orchestrator) *JobAdapter {
	return &JobAdapter{orch: orch, last: make(map[string]HolderSnapshot)}
}

func (a *JobAdapter) Analyze(ctx context.Context, req jobs.AnalysisRequest) (jobs.AnalysisResult, error) {
	snapshot, persisted, err := a.orch.Analyze(ctx, req.Mint, req.ForceRefresh)
	if err != nil {
		return jobs.AnalysisResult{}, err
	}

	a.mu.Lock()
	prior, had := a.last[req.Mint]
	a.last[req.Mint] = snapshot
	a.mu.Unlock()

	result := jobs.AnalysisResult{
		Mint:         req.Mint,
		Score:        snapshot.Score,
		TotalHolders: snapshot.TotalHolders,
		Skipped:      !persisted && had,
	}
	if had {
		result.ScoreDelta = abs(snapshot.Score - prior.Score)
		result.HolderDelta = abs64(snapshot.TotalHolders - prior.TotalHolders)
		result.ConcentrationDelta = abs(snapshot.HHI-prior.HHI) * 100
	}
	return result, nil
}

func (a *JobAdapter) TrendUpdate(ctx context.Context, mint string) (jobs.AnalysisResult, error) {
	snapshot, err := a.orch.TrendUpdate(ctx, mint)
	if err != nil {
		return jobs.AnalysisResult{}, err
	}
	return jobs.AnalysisResult{Mint: mint, Score: snapshot.Score, TotalHolders: snapshot.TotalHolders, Skipped: true}, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func abs64(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

var _ jobs.Analyzer = (*JobAdapter)(nil)
