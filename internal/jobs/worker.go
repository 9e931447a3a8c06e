package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/eventbus"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
)

// AnalysisRequest is the single_analysis/recurring_analysis/trend_update
// job payload.
type AnalysisRequest struct {
	Mint         string
	ForceRefresh bool
}

// BatchRequest is the batch_analysis job payload: sequential per-mint
// calls with an inter-mint delay to respect external rate limiters.
type BatchRequest struct {
	Mints         []string
	InterMintWait time.Duration
}

// AnalysisResult is what C12 hands back for a single mint.
type AnalysisResult struct {
	Mint               string
	Score              float64
	TotalHolders       int
	ConcentrationDelta float64
	HolderDelta        int
	ScoreDelta         float64
	Skipped            bool
}

// SignificantChange is published to the event bus when a recurring_analysis
// result crosses the significance thresholds (score delta >= 20, holder
// delta >= 50, or concentration delta >= 10).
type SignificantChange struct {
	Mint   string
	Result AnalysisResult
}

// Analyzer is the C12 collaborator the worker pool invokes. TrendUpdate is a
// lighter-weight path that skips classification and snapshot persistence.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error)
	TrendUpdate(ctx context.Context, mint string) (AnalysisResult, error)
}

// WorkerStatus reports one worker's current activity.
type WorkerStatus struct {
	ID                  int
	Busy                bool
	CurrentJob          string
	JobsProcessed       int64
	Errors              int64
	AverageProcessingTime time.Duration
}

const (
	significantScoreDelta         = 20.0
	significantHolderDelta        = 50
	significantConcentrationDelta = 10.0
	shutdownGrace                 = 30 * time.Second
)

// Pool is the job processor / worker pool (C10): up to maxWorkers goroutines
// each looping Next -> dispatch by type -> Complete|Fail.
type Pool struct {
	queue      *Queue
	analyzer   Analyzer
	maxWorkers int
	pollEvery  time.Duration

	clk clock.Clock
	log *zap.Logger
	bus *eventbus.Bus
	reg *metrics.Registry

	mu      sync.Mutex
	workers []*workerState

	wg sync.WaitGroup
}

type workerState struct {
	mu sync.Mutex
	WorkerStatus
	totalDuration time.Duration
}

// NewPool constructs a worker pool bound to queue, dispatching jobs to
// analyzer.
func NewPool(queue *Queue, analyzer Analyzer, maxWorkers int, clk clock.Clock, log *zap.Logger, bus *eventbus.Bus, reg *metrics.Registry) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		queue:      queue,
		analyzer:   analyzer,
		maxWorkers: maxWorkers,
		pollEvery:  200 * time.Millisecond,
		clk:        clk,
		log:        log,
		bus:        bus,
		reg:        reg,
	}
	for i := 0; i < maxWorkers; i++ {
		p.workers = append(p.workers, &workerState{WorkerStatus: WorkerStatus{ID: i}})
	}
	return p
}

// Run starts all workers and blocks until ctx is done, then waits up to
// shutdownGrace for busy workers to finish their current job.
func (p *Pool) Run(ctx context.Context) {
	for _, ws := range p.workers {
		p.wg.Add(1)
		go p.runWorker(ctx, ws)
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-p.clk.After(shutdownGrace):
		p.log.Warn("worker pool shutdown grace period elapsed with workers still busy")
	}
}

func (p *Pool) runWorker(ctx context.Context, ws *workerState) {
	defer p.wg.Done()
	ticker := p.clk.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.tryProcessOne(ctx, ws)
		}
	}
}

func (p *Pool) tryProcessOne(ctx context.Context, ws *workerState) {
	job := p.queue.Next()
	if job == nil {
		return
	}

	ws.mu.Lock()
	ws.Busy = true
	ws.CurrentJob = job.ID
	ws.mu.Unlock()
	if p.reg != nil {
		p.reg.WorkersBusy.Inc()
	}

	start := p.clk.Now()
	err := p.dispatch(ctx, job)
	elapsed := p.clk.Now().Sub(start)

	ws.mu.Lock()
	ws.Busy = false
	ws.CurrentJob = ""
	ws.JobsProcessed++
	ws.totalDuration += elapsed
	ws.AverageProcessingTime = ws.totalDuration / time.Duration(ws.JobsProcessed)
	if err != nil {
		ws.Errors++
	}
	ws.mu.Unlock()
	if p.reg != nil {
		p.reg.WorkersBusy.Dec()
	}

	if err != nil {
		p.queue.Fail(job.ID, err)
		if p.reg != nil {
			p.reg.JobsFailed.Inc()
		}
		p.log.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
		return
	}
	p.queue.Complete(job.ID, job.Result)
	if p.reg != nil {
		p.reg.JobsCompleted.Inc()
	}
}

func (p *Pool) dispatch(ctx context.Context, job *Job) error {
	switch job.Type {
	case TypeSingleAnalysis:
		return p.runSingle(ctx, job)
	case TypeRecurringAnalysis:
		return p.runRecurring(ctx, job)
	case TypeTrendUpdate:
		return p.runTrendUpdate(ctx, job)
	case TypeBatchAnalysis:
		return p.runBatch(ctx, job)
	default:
		return nil
	}
}

// runSingle dispatches a single_analysis job as-is: ForceRefresh is
// whatever the request was enqueued with (unlike runRecurring, which
// always forces a refresh).
func (p *Pool) runSingle(ctx context.Context, job *Job) error {
	req, ok := job.Data.(AnalysisRequest)
	if !ok {
		return nil
	}
	result, err := p.analyzer.Analyze(ctx, req)
	if err != nil {
		return err
	}
	job.Result = result
	return nil
}

func (p *Pool) runRecurring(ctx context.Context, job *Job) error {
	req, ok := job.Data.(AnalysisRequest)
	if !ok {
		return nil
	}
	req.ForceRefresh = true
	result, err := p.analyzer.Analyze(ctx, req)
	if err != nil {
		return err
	}
	job.Result = result

	if result.ScoreDelta >= significantScoreDelta ||
		float64(result.HolderDelta) >= significantHolderDelta ||
		result.ConcentrationDelta >= significantConcentrationDelta {
		if p.bus != nil {
			p.bus.Publish(eventbus.TopicSignificantChanges, SignificantChange{Mint: req.Mint, Result: result})
		}
	}
	return nil
}

func (p *Pool) runTrendUpdate(ctx context.Context, job *Job) error {
	req, ok := job.Data.(AnalysisRequest)
	if !ok {
		return nil
	}
	result, err := p.analyzer.TrendUpdate(ctx, req.Mint)
	if err != nil {
		return err
	}
	job.Result = result
	return nil
}

func (p *Pool) runBatch(ctx context.Context, job *Job) error {
	req, ok := job.Data.(BatchRequest)
	if !ok {
		return nil
	}
	results := make([]AnalysisResult, 0, len(req.Mints))
	for i, mint := range req.Mints {
		select {
		case <-ctx.Done():
			job.Result = results
			return ctx.Err()
		default:
		}

		result, err := p.analyzer.Analyze(ctx, AnalysisRequest{Mint: mint})
		if err != nil {
			p.log.Warn("batch analysis step failed", zap.String("mint", mint), zap.Error(err))
			continue
		}
		results = append(results, result)
		if p.bus != nil {
			p.bus.Publish(eventbus.TopicBatchProgress, struct {
				Index, Total int
				Mint         string
			}{Index: i + 1, Total: len(req.Mints), Mint: mint})
		}

		if i < len(req.Mints)-1 && req.InterMintWait > 0 {
			select {
			case <-ctx.Done():
				job.Result = results
				return ctx.Err()
			case <-p.clk.After(req.InterMintWait):
			}
		}
	}
	job.Result = results
	return nil
}

// Statuses returns a snapshot of every worker's current status.
func (p *Pool) Statuses() []WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerStatus, 0, len(p.workers))
	for _, ws := range p.workers {
		ws.mu.Lock()
		out = append(out, ws.WorkerStatus)
		ws.mu.Unlock()
	}
	return out
}
