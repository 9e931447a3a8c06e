package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/backoff"
	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/eventbus"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
	"github.com/pumpfun-indexer/streamcore/internal/ratelimit"
)

// channelBufferSize bounds the per-group hand-off channel between the
// stream demux and parser workers (spec.md §5 back-pressure).
const channelBufferSize = 1024

// migrationOverlapTimeout bounds how long migrate waits for the new
// subscription's first message before force-closing the old one.
const migrationOverlapTimeout = 5 * time.Second

type activeSubscription struct {
	group        SubscriptionGroup
	connectionID string
	cancel       context.CancelFunc
	ch           chan RawMessage
	firstMsg     chan struct{}
	firstMsgOnce sync.Once

	resubscribeAttempt atomic.Int32
}

// Manager composes the rate limiter, connection pool, subscription
// builder, and load balancer into the subscribe/unsubscribe/migrate
// surface (C5).
type Manager struct {
	mu   sync.Mutex
	subs map[string]*activeSubscription

	pool    *Pool
	limiter *ratelimit.SubscriptionLimiter
	builder *SubscriptionBuilder
	lb      *LoadBalancer
	bus     *eventbus.Bus
	log     *zap.Logger
	reg     *metrics.Registry
	clock   clock.Clock
}

// NewManager composes C1-C4 into the stream manager.
func NewManager(pool *Pool, limiter *ratelimit.SubscriptionLimiter, builder *SubscriptionBuilder, lb *LoadBalancer, bus *eventbus.Bus, log *zap.Logger, reg *metrics.Registry, clk clock.Clock) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{
		subs:    make(map[string]*activeSubscription),
		pool:    pool,
		limiter: limiter,
		builder: builder,
		lb:      lb,
		bus:     bus,
		log:     log,
		reg:     reg,
		clock:   clk,
	}
}

// Subscribe waits on the rate limiter, acquires a connection at the
// group's priority, builds the filter, opens the subscription, and
// registers a demux handler tagging every inbound message with
// (connectionID, group).
func (m *Manager) Subscribe(ctx context.Context, group SubscriptionGroup) (<-chan RawMessage, error) {
	m.mu.Lock()
	if _, exists := m.subs[group.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("stream: group %q already subscribed", group.Name)
	}
	m.mu.Unlock()

	if err := m.limiter.WaitForSlot(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit slot: %w", err)
	}

	conn, err := m.pool.Acquire(ctx, group.MonitorPriority)
	if err != nil {
		return nil, err
	}

	filter := m.builder.Build(group)

	subCtx, cancel := context.WithCancel(ctx)
	as := &activeSubscription{
		group:        group,
		connectionID: conn.ID,
		cancel:       cancel,
		ch:           make(chan RawMessage, channelBufferSize),
		firstMsg:     make(chan struct{}),
	}

	if err := conn.client.SetFilter(filter); err != nil {
		cancel()
		m.pool.Release(conn.ID)
		return nil, fmt.Errorf("set filter: %w", err)
	}

	m.limiter.Record(conn.ID)
	conn.assignGroup(group.Name)
	m.lb.UpdateSubscriptionCount(conn.ID, group.Name, true)

	m.mu.Lock()
	m.subs[group.Name] = as
	m.mu.Unlock()

	m.registerDemux(subCtx, conn, group.Name, as)

	return as.ch, nil
}

// registerDemux wires the connection's client to forward matching
// messages onto the subscription's bounded channel. A full channel pauses
// the stream rather than dropping messages: the manager stops reading
// further dispatch for that group until the consumer drains it.
func (m *Manager) registerDemux(ctx context.Context, conn *Connection, groupName string, as *activeSubscription) {
	onMessage := func(raw RawMessage) {
		matches := len(raw.Groups) == 0
		for _, g := range raw.Groups {
			if g == groupName {
				matches = true
				break
			}
		}
		if !matches {
			return
		}

		as.firstMsgOnce.Do(func() { close(as.firstMsg) })

		select {
		case as.ch <- raw:
		case <-ctx.Done():
		default:
			m.log.Warn("back-pressure: group channel full, pausing dispatch",
				zap.String("group", groupName), zap.String("connection_id", conn.ID))
			select {
			case as.ch <- raw:
			case <-ctx.Done():
			}
		}
	}

	onError := func(err error) {
		m.pool.RecordError(conn.ID)
		if m.bus != nil {
			m.bus.Publish(eventbus.TopicConnectionFailed, conn.ID)
		}
		go m.scheduleResubscribe(ctx, conn, groupName, as, err)
	}

	_ = conn.client.Connect(ctx, onMessage, onError)
}

// scheduleResubscribe implements the capped exponential backoff resubscribe
// on stream error (spec.md §4.5): 1s, 2s, 4s, ... capped at 30s, counted
// per-subscription so repeated failures keep escalating instead of resetting.
// A successful resubscribe re-opens the actual stream (re-dials via
// conn.client.Connect and reapplies the group's filter), not just a sleep.
func (m *Manager) scheduleResubscribe(ctx context.Context, conn *Connection, groupName string, as *activeSubscription, cause error) {
	attempt := int(as.resubscribeAttempt.Add(1))
	delay := backoff.Exponential(time.Second, 30*time.Second, attempt)

	m.log.Warn("stream error, scheduling resubscribe", zap.Error(cause),
		zap.String("group", groupName), zap.Int("attempt", attempt), zap.Duration("delay", delay))

	select {
	case <-m.clock.After(delay):
	case <-ctx.Done():
		return
	}

	m.mu.Lock()
	_, stillSubscribed := m.subs[groupName]
	m.mu.Unlock()
	if !stillSubscribed {
		return // unsubscribed while we were waiting; nothing to reopen
	}

	if err := m.limiter.WaitForSlot(ctx); err != nil {
		return
	}

	filter := m.builder.Build(as.group)
	if err := conn.client.SetFilter(filter); err != nil {
		m.log.Warn("resubscribe: set filter failed, will retry", zap.Error(err), zap.String("group", groupName))
		m.scheduleResubscribe(ctx, conn, groupName, as, err)
		return
	}

	m.limiter.Record(conn.ID)
	m.registerDemux(ctx, conn, groupName, as)
	m.log.Info("resubscribe: stream reopened", zap.String("group", groupName), zap.Int("attempt", attempt))
}

// Unsubscribe cancels the underlying stream, decrements the subscription
// count, and releases the connection.
func (m *Manager) Unsubscribe(groupName string) error {
	m.mu.Lock()
	as, ok := m.subs[groupName]
	if ok {
		delete(m.subs, groupName)
	}
	m.mu.Unlock()

	if !ok {
		return ErrUnknownGroup
	}

	as.cancel()
	conn, found := m.pool.Get(as.connectionID)
	if found {
		_ = conn.client.ClearFilter(groupName)
		conn.unassignGroup(groupName)
		m.lb.UpdateSubscriptionCount(conn.ID, groupName, false)
		m.pool.Release(conn.ID)
	}
	return nil
}

// Migrate opens the new subscription first, waits for its first message or
// a short timeout, then cancels the old one. This open-then-close
// discipline minimizes event loss; downstream consumers dedup by
// (signature, slot) to absorb any duplicates from the overlap window.
func (m *Manager) Migrate(ctx context.Context, req MigrationRequest) error {
	m.mu.Lock()
	old, ok := m.subs[req.SubscriptionID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownGroup
	}

	newConn, found := m.pool.Get(req.ToConnectionID)
	if !found {
		return fmt.Errorf("stream: destination connection %q not found", req.ToConnectionID)
	}

	group := old.group
	filter := m.builder.Build(group)

	newSubCtx, cancel := context.WithCancel(ctx)
	newAS := &activeSubscription{
		group:        group,
		connectionID: newConn.ID,
		cancel:       cancel,
		ch:           old.ch, // same downstream channel: consumers don't see a swap
		firstMsg:     make(chan struct{}),
	}

	if err := newConn.client.SetFilter(filter); err != nil {
		cancel()
		return fmt.Errorf("migrate: set filter on destination: %w", err)
	}
	if err := m.limiter.WaitForSlot(ctx); err != nil {
		cancel()
		return fmt.Errorf("migrate: %w", err)
	}
	m.limiter.Record(newConn.ID)
	newConn.assignGroup(group.Name)
	m.lb.UpdateSubscriptionCount(newConn.ID, group.Name, true)

	m.registerDemux(newSubCtx, newConn, group.Name, newAS)

	select {
	case <-newAS.firstMsg:
	case <-time.After(migrationOverlapTimeout):
		m.log.Warn("migration overlap timeout, proceeding to close old subscription anyway",
			zap.String("group", group.Name))
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	m.mu.Lock()
	m.subs[req.SubscriptionID] = newAS
	m.mu.Unlock()

	old.cancel()
	if oldConn, ok := m.pool.Get(req.FromConnectionID); ok {
		_ = oldConn.client.ClearFilter(group.Name)
		oldConn.unassignGroup(group.Name)
		m.lb.UpdateSubscriptionCount(oldConn.ID, group.Name, false)
		m.pool.Release(oldConn.ID)
	}

	if m.reg != nil {
		m.reg.MigrationsTotal.Inc()
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.TopicMigrationRequired, req)
	}
	return nil
}

// RunRebalanceLoop drives the load balancer's periodic load calculation
// and rebalance cycle, executing any migrations it emits. Intended to run
// in its own goroutine for the manager's lifetime.
func (m *Manager) RunRebalanceLoop(ctx context.Context, calcInterval, rebalanceEvery time.Duration) {
	calcTicker := m.clock.NewTicker(calcInterval)
	rebalanceTicker := m.clock.NewTicker(rebalanceEvery)
	defer calcTicker.Stop()
	defer rebalanceTicker.Stop()

	var lastLoads map[string]float64
	for {
		select {
		case <-ctx.Done():
			return
		case <-calcTicker.C():
			lastLoads = m.lb.CalculateLoads()
		case <-rebalanceTicker.C():
			if lastLoads == nil {
				continue
			}
			plan := m.lb.MaybeRebalance(lastLoads)
			for _, req := range plan {
				if err := m.Migrate(ctx, req); err != nil {
					m.log.Warn("rebalance migration failed", zap.Error(err), zap.String("group", req.SubscriptionID))
				}
			}
		}
	}
}
