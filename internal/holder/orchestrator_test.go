package holder

import (
	"context"
	"testing"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/store"
)

type fakeSource struct {
	tier     SourceTier
	balances []Balance
	err      error
}

func (f *fakeSource) Tier() SourceTier { return f.tier }
func (f *fakeSource) FetchHolders(ctx context.Context, mint string, opts FetchOptions) ([]Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

type fakeSnapshotStore struct {
	byMint map[string]store.Snapshot
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{byMint: make(map[string]store.Snapshot)}
}

func (s *fakeSnapshotStore) LatestSnapshot(ctx context.Context, mint string) (store.Snapshot, bool, error) {
	snap, ok := s.byMint[mint]
	return snap, ok, nil
}

func (s *fakeSnapshotStore) SaveSnapshot(ctx context.Context, snap store.Snapshot) error {
	s.byMint[snap.Mint] = snap
	return nil
}

func TestAnalyzeReusesFreshSnapshotWithoutForceRefresh(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	snaps := newFakeSnapshotStore()
	snaps.byMint["ABC"] = store.Snapshot{Mint: "ABC", CapturedAt: fc.Now(), TotalHolders: 42, ContentHash: "prior"}

	fetcher := NewTieredFetcher(&fakeSource{tier: SourceRPC, balances: []Balance{{Wallet: "w1", Amount: 100}}}, nil, nil)
	orch := NewOrchestrator(fetcher, nil, nil, nil, snaps, nil, fc, nil, nil)

	snap, persisted, err := orch.Analyze(context.Background(), "ABC", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted {
		t.Fatal("expected fresh snapshot reuse, not a new persist")
	}
	if snap.TotalHolders != 42 {
		t.Fatalf("expected reused snapshot's holder count, got %d", snap.TotalHolders)
	}
}

func TestAnalyzeRefetchesWhenSnapshotStale(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	snaps := newFakeSnapshotStore()
	snaps.byMint["ABC"] = store.Snapshot{Mint: "ABC", CapturedAt: fc.Now(), TotalHolders: 42, ContentHash: "prior"}
	fc.Advance(61 * time.Minute)

	fetcher := NewTieredFetcher(&fakeSource{tier: SourceRPC, balances: []Balance{{Wallet: "w1", Amount: 100}, {Wallet: "w2", Amount: 50}}}, nil, nil)
	orch := NewOrchestrator(fetcher, nil, nil, nil, snaps, nil, fc, nil, nil)

	snap, persisted, err := orch.Analyze(context.Background(), "ABC", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !persisted {
		t.Fatal("expected a new snapshot to be persisted once stale")
	}
	if snap.TotalHolders != 2 {
		t.Fatalf("expected freshly fetched holder count, got %d", snap.TotalHolders)
	}
}

func TestAnalyzeSkipsPersistWhenContentHashUnchanged(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	snaps := newFakeSnapshotStore()
	fetcher := NewTieredFetcher(&fakeSource{tier: SourceRPC, balances: []Balance{{Wallet: "w1", Amount: 100}}}, nil, nil)
	orch := NewOrchestrator(fetcher, nil, nil, nil, snaps, nil, fc, nil, nil)

	_, persisted1, err := orch.Analyze(context.Background(), "ABC", true)
	if err != nil || !persisted1 {
		t.Fatalf("expected first analyze to persist, persisted=%v err=%v", persisted1, err)
	}

	_, persisted2, err := orch.Analyze(context.Background(), "ABC", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted2 {
		t.Fatal("expected identical re-analysis to skip persistence (unchanged content hash)")
	}
}
