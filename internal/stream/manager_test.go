package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/ratelimit"
)

var errStreamBroken = errors.New("stream broken")

func newTestManager(t *testing.T, maxConns int) (*Manager, *Pool) {
	t.Helper()
	mgr, pool, _ := newTestManagerWithClock(t, maxConns)
	return mgr, pool
}

func newTestManagerWithClock(t *testing.T, maxConns int) (*Manager, *Pool, *clock.Fake) {
	t.Helper()
	factory, _ := newFakeClientFactory()
	fc := clock.NewFake(time.Unix(0, 0))
	pool := NewPool(PoolConfig{MaxConnections: maxConns, MinConnections: 2, HealthCheckInterval: time.Minute}, factory, fc, nil, nil, nil)
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize pool: %v", err)
	}
	limiter := ratelimit.New(fc, 100, 60*time.Second, nil)
	builder := NewSubscriptionBuilder(nil)
	lb := NewLoadBalancer(LoadBalanceConfig{}, fc, nil, nil)
	mgr := NewManager(pool, limiter, builder, lb, nil, nil, nil, fc)
	return mgr, pool, fc
}

func TestSubscribeThenUnsubscribe(t *testing.T) {
	mgr, pool := newTestManager(t, 3)
	group := SubscriptionGroup{Name: "bonding_curve", MonitorPriority: PriorityHigh}

	ch, err := mgr.Subscribe(context.Background(), group)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ch == nil {
		t.Fatal("expected non-nil channel")
	}

	if err := mgr.Unsubscribe("bonding_curve"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := mgr.Unsubscribe("bonding_curve"); err != ErrUnknownGroup {
		t.Fatalf("expected ErrUnknownGroup on double unsubscribe, got %v", err)
	}
}

func TestMigrateMovesGroupAndClosesOld(t *testing.T) {
	mgr, pool := newTestManager(t, 3)
	group := SubscriptionGroup{Name: "amm_pool", MonitorPriority: PriorityMedium}

	ch, err := mgr.Subscribe(context.Background(), group)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	stats := pool.Stats()
	fromID := ""
	toID := ""
	for _, c := range stats {
		if c.Metrics.ActiveSubscriptions > 0 {
			fromID = c.ID
		} else {
			toID = c.ID
		}
	}
	if fromID == "" || toID == "" {
		t.Fatal("expected one connection with the subscription and one without")
	}

	toConn, _ := pool.Get(toID)
	fakeTo := toConn.client.(*fakeClient)

	done := make(chan error, 1)
	go func() {
		done <- mgr.Migrate(context.Background(), MigrationRequest{
			SubscriptionID:   group.Name,
			FromConnectionID: fromID,
			ToConnectionID:   toID,
			Reason:           "test",
		})
	}()

	time.Sleep(20 * time.Millisecond)
	fakeTo.push(RawMessage{ConnectionID: toID, Groups: []string{group.Name}})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("migrate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("migrate did not complete")
	}

	select {
	case <-ch:
	default:
		t.Fatal("expected the migration's first message to reach the original channel")
	}

	newToConn, _ := pool.Get(toID)
	if newToConn.groupCount() == 0 {
		t.Fatal("expected destination connection to own the group after migration")
	}
	fromConn, _ := pool.Get(fromID)
	if fromConn.groupCount() != 0 {
		t.Fatal("expected source connection to have released the group after migration")
	}
}

func TestStreamErrorActuallyReopensTheSubscription(t *testing.T) {
	mgr, pool, fc := newTestManagerWithClock(t, 3)
	group := SubscriptionGroup{Name: "bonding_curve", MonitorPriority: PriorityHigh}

	if _, err := mgr.Subscribe(context.Background(), group); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	stats := pool.Stats()
	var connID string
	for _, c := range stats {
		if c.Metrics.ActiveSubscriptions > 0 {
			connID = c.ID
		}
	}
	if connID == "" {
		t.Fatal("expected a connection holding the subscription")
	}
	conn, _ := pool.Get(connID)
	fake := conn.client.(*fakeClient)

	connectsBefore := fake.connects()
	fake.triggerError(errStreamBroken)

	deadline := time.Now().Add(2 * time.Second)
	for fake.connects() == connectsBefore {
		fc.Advance(time.Minute)
		time.Sleep(time.Millisecond)
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for resubscribe to re-dial the client")
		}
	}

	if _, ok := fake.filters[group.Name]; !ok {
		t.Fatal("expected the resubscribe to reapply the group's filter")
	}
}
