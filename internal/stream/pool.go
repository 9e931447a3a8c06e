package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/eventbus"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
)

// staleAfter is how long an idle connection may go unused before it is
// eligible to be marked unhealthy by the passive health check.
const staleAfter = 5 * time.Minute

// errorRateUnhealthy is the error-rate threshold above which a passive
// health check marks a connection unhealthy.
const errorRateUnhealthy = 0.5

// ClientFactory builds the upstream Client for a newly created connection.
type ClientFactory func(connectionID string) Client

// PoolConfig configures Pool construction.
type PoolConfig struct {
	MinConnections      int
	MaxConnections      int
	HealthCheckInterval time.Duration
}

// Pool owns N long-lived streaming connections (C2): health scoring,
// priority-aware acquire, and passive health checks that never create
// upstream subscriptions.
type Pool struct {
	mu    sync.Mutex
	cfg   PoolConfig
	conns map[string]*Connection
	order []string // stable creation order, for deterministic "first is high" rule

	clock         clock.Clock
	newClient     ClientFactory
	log           *zap.Logger
	bus           *eventbus.Bus
	metrics       *metrics.Registry

	healthTicker clock.Ticker
	stopHealth   chan struct{}
}

// NewPool constructs a Pool. It does not create any connections until
// Initialize is called.
func NewPool(cfg PoolConfig, newClient ClientFactory, clk clock.Clock, log *zap.Logger, bus *eventbus.Bus, reg *metrics.Registry) *Pool {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 3
	}
	if cfg.MinConnections <= 0 {
		cfg.MinConnections = 2
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	return &Pool{
		cfg:        cfg,
		conns:      make(map[string]*Connection),
		clock:      clk,
		newClient:  newClient,
		log:        log,
		bus:        bus,
		metrics:    reg,
		stopHealth: make(chan struct{}),
	}
}

// Initialize creates minConnections entries; the first receives high
// priority, the rest medium (spec.md §4.2).
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.cfg.MinConnections; i++ {
		priority := PriorityMedium
		if i == 0 {
			priority = PriorityHigh
		}
		if _, err := p.createConnLocked(priority); err != nil {
			return err
		}
	}

	p.healthTicker = p.clock.NewTicker(p.cfg.HealthCheckInterval)
	go p.healthLoop(ctx)

	return nil
}

func (p *Pool) createConnLocked(priority Priority) (*Connection, error) {
	id := uuid.New().String()
	client := p.newClient(id)
	conn := newConnection(id, priority, client, p.clock.Now())
	p.conns[id] = conn
	p.order = append(p.order, id)
	if p.metrics != nil {
		p.metrics.ConnectionsTotal.Inc()
		p.metrics.ConnectionsActive.Set(float64(p.activeCountLocked()))
	}
	return conn, nil
}

func (p *Pool) activeCountLocked() int {
	n := 0
	for _, id := range p.order {
		if p.conns[id].Status != StatusDisconnected {
			n++
		}
	}
	return n
}

// Acquire scores every connection that is neither disconnected nor already
// active and returns the lowest-scoring one for the given monitor priority
// class. If none is available and the pool has room, a new connection is
// created at the requested priority; otherwise ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context, requested Priority) (*Connection, error) {
	start := p.clock.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PoolAcquireLatency.Observe(p.clock.Now().Sub(start).Seconds())
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Connection
	bestScore := -1.0

	for _, id := range p.order {
		c := p.conns[id]
		if c.Status == StatusDisconnected || c.Status == StatusActive {
			continue
		}
		score := loadScore(c.Metrics) + priorityPenalty(c.Priority, requested)
		if best == nil || score < bestScore {
			best, bestScore = c, score
		}
	}

	if best == nil && p.activeCountLocked() < p.cfg.MaxConnections {
		var err error
		best, err = p.createConnLocked(requested)
		if err != nil {
			return nil, err
		}
	}

	if best == nil {
		if p.metrics != nil {
			p.metrics.PoolExhaustedTotal.Inc()
		}
		return nil, fmt.Errorf("%w: %d/%d connections active", ErrPoolExhausted, p.activeCountLocked(), p.cfg.MaxConnections)
	}

	best.mu.Lock()
	best.Status = StatusActive
	best.Metrics.LastUsed = p.clock.Now()
	best.mu.Unlock()

	return best, nil
}

// Release returns a connection to idle. Ownership of the client handle
// never transferred; Release only relinquishes use.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	c, ok := p.conns[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	if c.Status != StatusDisconnected {
		c.Status = StatusIdle
	}
	c.Metrics.LastUsed = p.clock.Now()
	c.mu.Unlock()
}

// Stats returns a snapshot of every connection, in creation order.
func (p *Pool) Stats() []Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Connection, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.conns[id].Snapshot())
	}
	return out
}

// Get returns the connection with the given id, if any.
func (p *Pool) Get(id string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[id]
	return c, ok
}

// RecordError updates a connection's rolling error rate toward 1. Used by
// the stream manager when an upstream stream error occurs.
func (p *Pool) RecordError(id string) {
	p.mu.Lock()
	c, ok := p.conns[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.Metrics.ErrorRate = c.Metrics.ErrorRate*0.9 + 0.1
	c.mu.Unlock()
}

// healthLoop runs the passive health check on a fixed cadence. It never
// creates upstream subscriptions: staleness and error-rate thresholds are
// evaluated purely from locally held metrics.
func (p *Pool) healthLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopHealth:
			return
		case <-p.healthTicker.C():
			p.runHealthCheck()
		}
	}
}

func (p *Pool) runHealthCheck() {
	now := p.clock.Now()
	p.mu.Lock()
	ids := append([]string(nil), p.order...)
	p.mu.Unlock()

	for _, id := range ids {
		p.mu.Lock()
		c, ok := p.conns[id]
		p.mu.Unlock()
		if !ok {
			continue
		}

		c.mu.Lock()
		c.Metrics.LastHealthCheck = now
		stale := c.Status == StatusIdle && now.Sub(c.Metrics.LastUsed) > staleAfter
		unhealthyErr := c.Metrics.ErrorRate > errorRateUnhealthy
		wasHealthy := c.Status != StatusUnhealthy
		if (stale || unhealthyErr) && c.Status != StatusDisconnected {
			c.Status = StatusUnhealthy
		}
		became := wasHealthy && c.Status == StatusUnhealthy
		c.mu.Unlock()

		if became {
			p.log.Warn("connection marked unhealthy", zap.String("connection_id", id), zap.Bool("stale", stale), zap.Bool("error_rate", unhealthyErr))
			if p.bus != nil {
				p.bus.Publish(eventbus.TopicConnectionUnhealthy, id)
			}
		}
	}
}

// Recover transitions a connection back to idle after real traffic
// succeeds again (spec.md §4.2: "Recovery happens when real traffic
// succeeds again").
func (p *Pool) Recover(id string) {
	p.mu.Lock()
	c, ok := p.conns[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	wasUnhealthy := c.Status == StatusUnhealthy
	if wasUnhealthy {
		c.Status = StatusIdle
		c.Metrics.ErrorRate = 0
	}
	c.mu.Unlock()
	if wasUnhealthy {
		if p.bus != nil {
			p.bus.Publish(eventbus.TopicConnectionRecovered, id)
		}
	}
}

// Shutdown stops timers, drops client handles, and clears the connection
// map. disconnected is terminal.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.healthTicker != nil {
		p.healthTicker.Stop()
	}
	select {
	case p.stopHealth <- struct{}{}:
	default:
	}

	for _, id := range p.order {
		c := p.conns[id]
		c.mu.Lock()
		c.Status = StatusDisconnected
		if c.client != nil {
			c.client.Close()
		}
		c.mu.Unlock()
	}
	p.conns = make(map[string]*Connection)
	p.order = nil
}
