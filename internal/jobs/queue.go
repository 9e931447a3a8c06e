package jobs

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pumpfun-indexer/streamcore/internal/backoff"
	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
)

const (
	retryBase = time.Second
	retryCap  = 60 * time.Second
)

// readyItem is one entry in the ready heap, ordered by (priorityRank,
// createdAt) so lower-priority-rank jobs run first and ties break FIFO.
type readyItem struct {
	job   *Job
	index int
}

type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].job.CreatedAt.Before(h[j].job.CreatedAt)
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *readyHeap) Push(x any) {
	it := x.(*readyItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// delayedItem is one entry in the delay heap, ordered by DelayUntil.
type delayedItem struct {
	job   *Job
	index int
}

type delayedHeap []*delayedItem

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	return h[i].job.DelayUntil.Before(*h[j].job.DelayUntil)
}
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *delayedHeap) Push(x any) {
	it := x.(*delayedItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the priority job queue (C9): a ready heap keyed by
// (priorityRank, createdAt), a delay heap keyed by delayUntil, and a
// dedup index keyed by caller-supplied DedupKey. All operations are
// serialized by a single mutex, matching the connection pool's shared-
// resource policy.
type Queue struct {
	mu sync.Mutex

	ready   readyHeap
	delayed delayedHeap
	byID    map[string]*Job
	byDedup map[string]string // dedupKey -> job ID

	clk clock.Clock
	reg *metrics.Registry
}

// NewQueue constructs an empty Queue.
func NewQueue(clk clock.Clock, reg *metrics.Registry) *Queue {
	if clk == nil {
		clk = clock.Real()
	}
	q := &Queue{
		byID:    make(map[string]*Job),
		byDedup: make(map[string]string),
		clk:     clk,
		reg:     reg,
	}
	heap.Init(&q.ready)
	heap.Init(&q.delayed)
	return q
}

// Add enqueues data with the given options, returning the created Job, or
// the existing Job if opts.DedupKey collides with one already tracked.
func (q *Queue) Add(jobType Type, data any, opts AddOptions) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.DedupKey != "" {
		if id, ok := q.byDedup[opts.DedupKey]; ok {
			if existing, ok := q.byID[id]; ok {
				return existing
			}
		}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	job := &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Data:        data,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		CreatedAt:   q.clk.Now(),
		DedupKey:    opts.DedupKey,
	}

	q.byID[job.ID] = job
	if job.DedupKey != "" {
		q.byDedup[job.DedupKey] = job.ID
	}

	if opts.Delay > 0 {
		due := q.clk.Now().Add(opts.Delay)
		job.State = StateDelayed
		job.DelayUntil = &due
		heap.Push(&q.delayed, &delayedItem{job: job})
	} else {
		job.State = StateWaiting
		heap.Push(&q.ready, &readyItem{job: job})
	}

	q.recordDepthLocked()
	return job
}

// promoteDueLocked moves any delayed job whose DelayUntil has passed into
// the ready heap. Caller holds q.mu.
func (q *Queue) promoteDueLocked() {
	now := q.clk.Now()
	for q.delayed.Len() > 0 && !q.delayed[0].job.DelayUntil.After(now) {
		it := heap.Pop(&q.delayed).(*delayedItem)
		it.job.State = StateWaiting
		heap.Push(&q.ready, &readyItem{job: it.job})
	}
}

// Next pops the highest-priority ready job and marks it active, or returns
// nil if none are ready.
func (q *Queue) Next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteDueLocked()
	if q.ready.Len() == 0 {
		return nil
	}
	it := heap.Pop(&q.ready).(*readyItem)
	job := it.job
	job.State = StateActive
	job.Attempts++
	started := q.clk.Now()
	job.StartedAt = &started
	q.recordDepthLocked()
	return job
}

// Complete marks job terminally completed with result.
func (q *Queue) Complete(id string, result any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return
	}
	job.State = StateCompleted
	job.Result = result
	finished := q.clk.Now()
	job.FinishedAt = &finished
	q.recordDepthLocked()
}

// Fail records a failure. If job.Attempts < job.MaxAttempts it is
// rescheduled with capped exponential backoff (base 1s, cap 60s) and
// returns nil; otherwise it terminally fails and ErrMaxAttemptsExceeded is
// returned.
func (q *Queue) Fail(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return nil
	}
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.Attempts < job.MaxAttempts {
		delay := backoff.Exponential(retryBase, retryCap, job.Attempts)
		due := q.clk.Now().Add(delay)
		job.State = StateDelayed
		job.DelayUntil = &due
		heap.Push(&q.delayed, &delayedItem{job: job})
		q.recordDepthLocked()
		return nil
	}

	job.State = StateFailed
	finished := q.clk.Now()
	job.FinishedAt = &finished
	q.recordDepthLocked()
	return ErrMaxAttemptsExceeded
}

// Get returns a copy of the tracked job by ID.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.byID[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Stats reports current queue depth by state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteDueLocked()

	var s Stats
	for _, job := range q.byID {
		switch job.State {
		case StateWaiting:
			s.Waiting++
		case StateDelayed:
			s.Delayed++
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

func (q *Queue) recordDepthLocked() {
	if q.reg == nil {
		return
	}
	byPriority := map[Priority]int{}
	for _, it := range q.ready {
		byPriority[it.job.Priority]++
	}
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow} {
		q.reg.JobQueueDepth.WithLabelValues(p.String()).Set(float64(byPriority[p]))
	}
	q.reg.JobQueueDepth.WithLabelValues("delayed").Set(float64(q.delayed.Len()))
}
