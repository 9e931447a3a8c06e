package stream

import (
	"context"
	"testing"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
)

func newTestPool(t *testing.T, max, min int) *Pool {
	t.Helper()
	factory, _ := newFakeClientFactory()
	fc := clock.NewFake(time.Unix(0, 0))
	p := NewPool(PoolConfig{MaxConnections: max, MinConnections: min, HealthCheckInterval: time.Minute}, factory, fc, nil, nil, nil)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return p
}

func TestInitializeFirstConnectionIsHighPriorityRestMedium(t *testing.T) {
	p := newTestPool(t, 3, 2)
	stats := p.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(stats))
	}
	if stats[0].Priority != PriorityHigh {
		t.Fatalf("expected first connection high priority, got %v", stats[0].Priority)
	}
	if stats[1].Priority != PriorityMedium {
		t.Fatalf("expected second connection medium priority, got %v", stats[1].Priority)
	}
}

func TestAcquireFailsWithPoolExhaustedAtMax(t *testing.T) {
	p := newTestPool(t, 2, 2)
	ctx := context.Background()

	c1, err := p.Acquire(ctx, PriorityMedium)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	c2, err := p.Acquire(ctx, PriorityMedium)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if c1.ID == c2.ID {
		t.Fatal("expected distinct connections")
	}

	if _, err := p.Acquire(ctx, PriorityMedium); err == nil {
		t.Fatal("expected PoolExhausted once both connections active and at max")
	}
}

func TestAcquirePrefersLowerScoringConnection(t *testing.T) {
	p := newTestPool(t, 3, 2)
	stats := p.Stats()
	lowLoadID := stats[0].ID
	highLoadID := stats[1].ID

	// Push high load onto the second connection.
	conn, _ := p.Get(highLoadID)
	conn.mu.Lock()
	conn.Metrics.RequestsPerSecond = 500
	conn.Metrics.ErrorRate = 0.9
	conn.mu.Unlock()

	got, err := p.Acquire(context.Background(), PriorityMedium)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got.ID != lowLoadID {
		t.Fatalf("expected pool to prefer low-load connection %s, got %s", lowLoadID, got.ID)
	}
}

func TestReleaseReturnsConnectionToIdle(t *testing.T) {
	p := newTestPool(t, 2, 2)
	conn, err := p.Acquire(context.Background(), PriorityMedium)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if conn.Status != StatusActive {
		t.Fatalf("expected active after acquire, got %v", conn.Status)
	}
	p.Release(conn.ID)
	c, _ := p.Get(conn.ID)
	if c.Status != StatusIdle {
		t.Fatalf("expected idle after release, got %v", c.Status)
	}
}

func TestShutdownDisconnectsAllConnections(t *testing.T) {
	p := newTestPool(t, 2, 2)
	ids := make([]string, 0)
	for _, c := range p.Stats() {
		ids = append(ids, c.ID)
	}
	p.Shutdown()
	if len(p.Stats()) != 0 {
		t.Fatal("expected empty pool after shutdown")
	}
	for _, id := range ids {
		if _, ok := p.Get(id); ok {
			t.Fatalf("expected connection %s removed after shutdown", id)
		}
	}
}
