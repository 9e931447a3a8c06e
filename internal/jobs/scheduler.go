package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
)

// CustomRunner selects input dynamically on each tick (e.g. "analyze every
// mint that graduated in the last hour") instead of enqueuing fixed Data.
type CustomRunner func(ctx context.Context, q *Queue)

// ScheduledJob is one recurring entry the scheduler drives.
type ScheduledJob struct {
	ID           string
	Schedule     time.Duration
	Type         Type
	Data         any
	Options      AddOptions
	Enabled      bool
	LastRun      time.Time
	CustomRunner CustomRunner
}

// Scheduler drives recurring work on top of Queue (C11): each enabled
// ScheduledJob arms a periodic tick; on tick it either invokes CustomRunner
// or enqueues Data directly, and always stamps LastRun.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*ScheduledJob

	queue *Queue
	clk   clock.Clock
	log   *zap.Logger
}

// NewScheduler constructs a Scheduler that enqueues onto queue.
func NewScheduler(queue *Queue, clk clock.Clock, log *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{jobs: make(map[string]*ScheduledJob), queue: queue, clk: clk, log: log}
}

// Add registers a scheduled job. It does not arm a timer until Run starts.
func (s *Scheduler) Add(job ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := job
	s.jobs[job.ID] = &cp
}

// SetEnabled toggles a scheduled job without removing it.
func (s *Scheduler) SetEnabled(id string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Enabled = enabled
	}
}

// Run arms one ticker per job that is enabled when Run starts and blocks
// until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	snapshot := make([]*ScheduledJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Enabled {
			snapshot = append(snapshot, j)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range snapshot {
		wg.Add(1)
		go func(j *ScheduledJob) {
			defer wg.Done()
			s.runOne(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, j *ScheduledJob) {
	ticker := s.clk.NewTicker(j.Schedule)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.fire(ctx, j)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j *ScheduledJob) {
	s.mu.Lock()
	j.LastRun = s.clk.Now()
	enabled := j.Enabled
	s.mu.Unlock()
	if !enabled {
		return
	}

	if j.CustomRunner != nil {
		j.CustomRunner(ctx, s.queue)
		return
	}
	s.queue.Add(j.Type, j.Data, j.Options)
	s.log.Debug("scheduled job fired", zap.String("id", j.ID))
}

// Get returns a copy of a scheduled job's current state.
func (s *Scheduler) Get(id string) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ScheduledJob{}, false
	}
	return *j, true
}
