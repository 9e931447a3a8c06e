package holder

import (
	"math"
	"testing"
	"time"
)

func TestComputeDistributionEqualBalancesHasZeroGini(t *testing.T) {
	balances := []Balance{{Wallet: "a", Amount: 100}, {Wallet: "b", Amount: 100}, {Wallet: "c", Amount: 100}}
	m := ComputeDistribution(balances, time.Now())
	if math.Abs(m.Gini) > 1e-9 {
		t.Fatalf("expected gini ~0 for equal balances, got %v", m.Gini)
	}
	if m.TotalHolders != 3 {
		t.Fatalf("expected 3 holders, got %d", m.TotalHolders)
	}
}

func TestComputeDistributionSingleHolderIsMaximallyConcentrated(t *testing.T) {
	balances := []Balance{{Wallet: "a", Amount: 1000}}
	m := ComputeDistribution(balances, time.Now())
	if m.HHI < 0.999 {
		t.Fatalf("expected HHI ~1 for a single holder, got %v", m.HHI)
	}
	if m.Top10Pct != 1 {
		t.Fatalf("expected top10 share 1.0, got %v", m.Top10Pct)
	}
}

func TestComputeDistributionGiniBounded(t *testing.T) {
	balances := []Balance{
		{Wallet: "a", Amount: 900}, {Wallet: "b", Amount: 50}, {Wallet: "c", Amount: 30}, {Wallet: "d", Amount: 20},
	}
	m := ComputeDistribution(balances, time.Now())
	if m.Gini < 0 || m.Gini > 1 {
		t.Fatalf("expected gini within [0,1], got %v", m.Gini)
	}
	if m.HHI < 0 || m.HHI > 1 {
		t.Fatalf("expected hhi within [0,1], got %v", m.HHI)
	}
}

func TestComputeDistributionEmptyInput(t *testing.T) {
	m := ComputeDistribution(nil, time.Now())
	if m.TotalHolders != 0 || m.Gini != 0 || m.HHI != 0 {
		t.Fatalf("expected zero metrics for empty input, got %+v", m)
	}
}

func TestComputeDistributionIgnoresNonPositiveBalances(t *testing.T) {
	balances := []Balance{{Wallet: "a", Amount: 100}, {Wallet: "b", Amount: 0}, {Wallet: "c", Amount: -5}}
	m := ComputeDistribution(balances, time.Now())
	if m.TotalHolders != 1 {
		t.Fatalf("expected only the positive balance to count, got %d holders", m.TotalHolders)
	}
}

func TestContentHashStableForIdenticalSnapshot(t *testing.T) {
	s := HolderSnapshot{Mint: "ABC", TotalHolders: 10, Gini: 0.5, HHI: 0.2, Top10Pct: 0.4, Score: 50}
	if contentHash(s) != contentHash(s) {
		t.Fatal("expected identical snapshots to hash identically")
	}
	s2 := s
	s2.TotalHolders = 11
	if contentHash(s) == contentHash(s2) {
		t.Fatal("expected differing snapshots to hash differently")
	}
}
