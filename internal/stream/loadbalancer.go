package stream

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
)

const (
	emaAlpha            = 0.1
	tpsWindow           = 5 * time.Second
	historyCapacity     = 12 // 12 samples x 5s = 1 min
	rebalanceInterval   = 10 * time.Second
	overloadThreshold   = 70.0
	underloadThreshold  = 40.0
)

// LoadSample is a rolling per-connection sample (spec.md §3).
type LoadSample struct {
	At        time.Time
	TPS       float64
	Latency   time.Duration
	ParseRate float64
	Bytes     uint64
}

// LoadBalanceConfig configures the LoadBalancer.
type LoadBalanceConfig struct {
	RebalanceThreshold      float64
	MinRebalanceInterval    time.Duration
	LoadCalculationInterval time.Duration
	MigrationBatchSize      int
	TargetLoadRatio         float64
}

type connState struct {
	emaLatency    float64 // milliseconds
	msgTimestamps []time.Time
	errorCount    int
	totalCount    int
	bytes         uint64
	subscriptions map[string]struct{} // group -> {}
	history       []LoadSample
}

// LoadBalancer maintains per-connection load metrics and emits migration
// requests when the load spread across connections exceeds threshold (C4).
// It only emits requests; execution is the stream manager's job.
type LoadBalancer struct {
	mu    sync.Mutex
	cfg   LoadBalanceConfig
	clock clock.Clock
	log   *zap.Logger
	reg   *metrics.Registry

	conns          map[string]*connState
	lastRebalance  time.Time
	pendingInFlight map[string]time.Time // msgID -> start time, per connection via key "conn:msgID"
}

// NewLoadBalancer constructs a LoadBalancer with the given configuration.
func NewLoadBalancer(cfg LoadBalanceConfig, clk clock.Clock, log *zap.Logger, reg *metrics.Registry) *LoadBalancer {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RebalanceThreshold <= 0 {
		cfg.RebalanceThreshold = 30
	}
	if cfg.MinRebalanceInterval <= 0 {
		cfg.MinRebalanceInterval = 60 * time.Second
	}
	if cfg.LoadCalculationInterval <= 0 {
		cfg.LoadCalculationInterval = 5 * time.Second
	}
	if cfg.MigrationBatchSize <= 0 {
		cfg.MigrationBatchSize = 2
	}
	if cfg.TargetLoadRatio <= 0 {
		cfg.TargetLoadRatio = 0.7
	}
	return &LoadBalancer{
		cfg:             cfg,
		clock:           clk,
		log:             log,
		reg:             reg,
		conns:           make(map[string]*connState),
		pendingInFlight: make(map[string]time.Time),
	}
}

func (lb *LoadBalancer) stateFor(connID string) *connState {
	s, ok := lb.conns[connID]
	if !ok {
		s = &connState{subscriptions: make(map[string]struct{})}
		lb.conns[connID] = s
	}
	return s
}

// RecordMessageStart marks the start of processing a message on connID.
func (lb *LoadBalancer) RecordMessageStart(connID, msgID string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.pendingInFlight[connID+":"+msgID] = lb.clock.Now()
}

// RecordMessageComplete records completion: updates the EMA latency (only
// on completion events, per spec.md §4.4), the tps window, error count and
// bytes processed.
func (lb *LoadBalancer) RecordMessageComplete(connID, msgID string, success bool, bytes uint64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.clock.Now()
	key := connID + ":" + msgID
	start, ok := lb.pendingInFlight[key]
	if ok {
		delete(lb.pendingInFlight, key)
	} else {
		start = now
	}
	latencyMs := float64(now.Sub(start).Milliseconds())

	s := lb.stateFor(connID)
	if s.totalCount == 0 {
		s.emaLatency = latencyMs
	} else {
		s.emaLatency = emaAlpha*latencyMs + (1-emaAlpha)*s.emaLatency
	}
	s.totalCount++
	if !success {
		s.errorCount++
	}
	s.bytes += bytes
	s.msgTimestamps = append(s.msgTimestamps, now)
	s.msgTimestamps = pruneOlderThan(s.msgTimestamps, now.Add(-tpsWindow))
}

// UpdateSubscriptionCount records that group is assigned to connID (present
// == true) or no longer is (present == false).
func (lb *LoadBalancer) UpdateSubscriptionCount(connID, group string, present bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	s := lb.stateFor(connID)
	if present {
		s.subscriptions[group] = struct{}{}
	} else {
		delete(s.subscriptions, group)
	}
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// tps returns the 5-second sliding window message count as a per-second
// rate.
func (s *connState) tps(now time.Time) float64 {
	ts := pruneOlderThan(s.msgTimestamps, now.Add(-tpsWindow))
	s.msgTimestamps = ts
	return float64(len(ts)) / tpsWindow.Seconds()
}

func (s *connState) errorRate() float64 {
	if s.totalCount == 0 {
		return 0
	}
	return float64(s.errorCount) / float64(s.totalCount)
}

// CalculateLoads computes load for every tracked connection and appends a
// snapshot to each one's bounded history. Called every
// LoadCalculationInterval by the owning loop (the stream manager).
func (lb *LoadBalancer) CalculateLoads() map[string]float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.clock.Now()
	out := make(map[string]float64, len(lb.conns))
	for id, s := range lb.conns {
		m := Metrics{
			RequestsPerSecond: s.tps(now),
			AverageLatency:    time.Duration(s.emaLatency) * time.Millisecond,
			ErrorRate:         s.errorRate(),
			BytesProcessed:    s.bytes,
		}
		load := loadScore(m)
		out[id] = load

		sample := LoadSample{At: now, TPS: m.RequestsPerSecond, Latency: m.AverageLatency, Bytes: s.bytes}
		s.history = append(s.history, sample)
		if len(s.history) > historyCapacity {
			s.history = s.history[len(s.history)-historyCapacity:]
		}
	}
	return out
}

// PredictLoad returns the most recently calculated load for a connection,
// or 0 if unknown.
func (lb *LoadBalancer) PredictLoad(connID string) float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	s, ok := lb.conns[connID]
	if !ok || len(s.history) == 0 {
		return 0
	}
	return loadScore(Metrics{
		RequestsPerSecond: s.history[len(s.history)-1].TPS,
		AverageLatency:    s.history[len(s.history)-1].Latency,
		ErrorRate:         s.errorRate(),
		BytesProcessed:    s.history[len(s.history)-1].Bytes,
	})
}

// MaybeRebalance checks the minimum-interval and threshold gates, and
// returns a migration plan if warranted. Callers (the stream manager's
// timer loop) call this roughly every rebalanceInterval.
func (lb *LoadBalancer) MaybeRebalance(loads map[string]float64) []MigrationRequest {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.clock.Now()
	if !lb.lastRebalance.IsZero() && now.Sub(lb.lastRebalance) < lb.cfg.MinRebalanceInterval {
		return nil
	}
	if len(loads) < 2 {
		return nil
	}

	maxLoad, minLoad := -1.0, 1e9
	for _, l := range loads {
		if l > maxLoad {
			maxLoad = l
		}
		if l < minLoad {
			minLoad = l
		}
	}
	spread := maxLoad - minLoad
	if spread <= lb.cfg.RebalanceThreshold { // strictly greater required
		return nil
	}

	type cand struct {
		id   string
		load float64
		tps  float64
	}
	var overloaded, underloaded []cand
	for id, l := range loads {
		s := lb.conns[id]
		tps := 0.0
		if s != nil {
			tps = s.tps(now)
		}
		if l > overloadThreshold {
			overloaded = append(overloaded, cand{id, l, tps})
		} else if l < underloadThreshold {
			underloaded = append(underloaded, cand{id, l, tps})
		}
	}
	if len(overloaded) == 0 || len(underloaded) == 0 {
		return nil
	}

	// Tie-break: migrate the group whose source connection has the higher
	// tps first.
	sort.Slice(overloaded, func(i, j int) bool { return overloaded[i].tps > overloaded[j].tps })
	sort.Slice(underloaded, func(i, j int) bool { return underloaded[i].load < underloaded[j].load })

	var plan []MigrationRequest
	underIdx := 0
	for _, src := range overloaded {
		groups := lb.conns[src.id].groupNames()
		for _, g := range groups {
			if len(plan) >= lb.cfg.MigrationBatchSize {
				break
			}
			if underIdx >= len(underloaded) {
				break
			}
			dst := underloaded[underIdx]
			plan = append(plan, MigrationRequest{
				SubscriptionID:   g,
				FromConnectionID: src.id,
				ToConnectionID:   dst.id,
				Reason:           "load_spread",
			})
			underIdx = (underIdx + 1) % len(underloaded)
		}
		if len(plan) >= lb.cfg.MigrationBatchSize {
			break
		}
	}

	if len(plan) > 0 {
		lb.lastRebalance = now
		if lb.reg != nil {
			lb.reg.RebalancesTotal.Inc()
			lb.reg.LoadSpread.Set(spread)
		}
	}
	return plan
}

func (s *connState) groupNames() []string {
	out := make([]string, 0, len(s.subscriptions))
	for g := range s.subscriptions {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// ForceRebalance bypasses the minRebalanceInterval gate, for operator-
// triggered rebalances.
func (lb *LoadBalancer) ForceRebalance(loads map[string]float64) []MigrationRequest {
	lb.mu.Lock()
	lb.lastRebalance = time.Time{}
	lb.mu.Unlock()
	return lb.MaybeRebalance(loads)
}
