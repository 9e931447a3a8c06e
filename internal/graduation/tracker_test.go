package graduation

import (
	"context"
	"testing"
	"time"

	"github.com/pumpfun-indexer/streamcore/internal/eventbus"
	"github.com/pumpfun-indexer/streamcore/internal/parser"
	"github.com/pumpfun-indexer/streamcore/internal/store"
)

type fakeTokenStore struct {
	byMint map[string]store.TokenRecord
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{byMint: make(map[string]store.TokenRecord)}
}

func (s *fakeTokenStore) UpsertToken(ctx context.Context, t store.TokenRecord) error {
	s.byMint[t.Mint] = t
	return nil
}

func (s *fakeTokenStore) GetToken(ctx context.Context, mint string) (store.TokenRecord, bool, error) {
	t, ok := s.byMint[mint]
	return t, ok, nil
}

func (s *fakeTokenStore) MarkGraduated(ctx context.Context, mint string, at time.Time) error {
	t := s.byMint[mint]
	t.GraduatedToPool = true
	atCopy := at
	t.GraduationAt = &atCopy
	s.byMint[mint] = t
	return nil
}

func (s *fakeTokenStore) IncrementPoolTradeCount(ctx context.Context, mint string) (int64, error) {
	t := s.byMint[mint]
	t.Mint = mint
	t.PoolTradeCount++
	s.byMint[mint] = t
	return t.PoolTradeCount, nil
}

func TestFirstPoolTradeFlipsGraduation(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.byMint["ABC"] = store.TokenRecord{Mint: "ABC"}

	bus := eventbus.New(nil)
	tracker := NewTracker(tokens, nil)
	tracker.Wire(bus)

	firstTradeAt := time.Unix(1000, 0)
	bus.Publish(eventbus.TopicAMMTrade, parser.PoolTrade{Sig: "sig1", Mint: "ABC", PoolID: "pool1", Trader: "w1", At: firstTradeAt})

	tok, ok, err := tokens.GetToken(context.Background(), "ABC")
	if err != nil || !ok {
		t.Fatalf("expected token found, ok=%v err=%v", ok, err)
	}
	if !tok.GraduatedToPool {
		t.Fatal("expected token to be marked graduated after its first pool trade")
	}
	if tok.GraduationAt == nil || !tok.GraduationAt.Equal(firstTradeAt) {
		t.Fatalf("expected graduation_at to equal the first pool trade's time, got %v", tok.GraduationAt)
	}
	if tok.PoolTradeCount != 1 {
		t.Fatalf("expected pool trade count 1, got %d", tok.PoolTradeCount)
	}
}

func TestSubsequentPoolTradesOnlyIncrementCount(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.byMint["ABC"] = store.TokenRecord{Mint: "ABC"}

	bus := eventbus.New(nil)
	tracker := NewTracker(tokens, nil)
	tracker.Wire(bus)

	first := time.Unix(1000, 0)
	second := time.Unix(2000, 0)
	bus.Publish(eventbus.TopicAMMTrade, parser.PoolTrade{Sig: "sig1", Mint: "ABC", At: first})
	bus.Publish(eventbus.TopicAMMTrade, parser.ExternalPoolTrade{Sig: "sig2", Mint: "ABC", At: second})

	tok, _, _ := tokens.GetToken(context.Background(), "ABC")
	if tok.PoolTradeCount != 2 {
		t.Fatalf("expected pool trade count 2, got %d", tok.PoolTradeCount)
	}
	if !tok.GraduationAt.Equal(first) {
		t.Fatalf("expected graduation_at to stay pinned to the first pool trade's time, got %v", tok.GraduationAt)
	}
}

func TestNonPoolEventsIgnored(t *testing.T) {
	tokens := newFakeTokenStore()
	bus := eventbus.New(nil)
	tracker := NewTracker(tokens, nil)
	tracker.Wire(bus)

	bus.Publish(eventbus.TopicAMMTrade, parser.TokenCreated{Sig: "sig1", Mint: "ABC"})

	if _, ok, _ := tokens.GetToken(context.Background(), "ABC"); ok {
		t.Fatal("expected a non-pool-trade event to leave no token record behind")
	}
}
