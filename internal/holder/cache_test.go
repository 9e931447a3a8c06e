package holder

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryClassificationCacheRoundTrip(t *testing.T) {
	c := NewInMemoryClassificationCache()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "wallet1"); err != nil || ok {
		t.Fatalf("expected cache miss before Set, ok=%v err=%v", ok, err)
	}

	wc := WalletClassification{Wallet: "wallet1", Category: CategoryWhale, Confidence: 0.9, ClassifiedAt: time.Now()}
	if err := c.Set(ctx, wc, time.Hour); err != nil {
		t.Fatalf("unexpected error on Set: %v", err)
	}

	got, ok, err := c.Get(ctx, "wallet1")
	if err != nil || !ok {
		t.Fatalf("expected cache hit, ok=%v err=%v", ok, err)
	}
	if got.Category != CategoryWhale {
		t.Fatalf("expected cached category whale, got %v", got.Category)
	}
}

func TestInMemoryClassificationCacheExpiresAfterTTL(t *testing.T) {
	c := NewInMemoryClassificationCache()
	ctx := context.Background()

	wc := WalletClassification{Wallet: "wallet1", Category: CategoryBot}
	if err := c.Set(ctx, wc, -time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := c.Get(ctx, "wallet1"); ok {
		t.Fatal("expected already-expired entry to be a miss")
	}
}
