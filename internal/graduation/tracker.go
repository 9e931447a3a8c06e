// Package graduation implements the bonding-curve-to-pool graduation-fixer
// (spec.md §8 scenario 6): a bus subscriber that watches pool trades and
// flips a token's GraduatedToPool/GraduationAt state the first time one
// arrives.
package graduation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/eventbus"
	"github.com/pumpfun-indexer/streamcore/internal/parser"
	"github.com/pumpfun-indexer/streamcore/internal/store"
)

// Tracker drives the graduation state machine off the live trade stream.
// A token graduates the moment its first pool trade is observed:
// graduated_to_pool flips true and graduation_at is stamped with that
// trade's time, which by construction is the minimum pool trade time since
// every trade after the first is a no-op for this state machine.
type Tracker struct {
	tokens store.TokenStore
	log    *zap.Logger
}

// NewTracker wraps the token store the graduation-fixer writes through.
func NewTracker(tokens store.TokenStore, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{tokens: tokens, log: log}
}

// Wire subscribes the tracker to every topic that can carry a pool trade.
func (t *Tracker) Wire(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.TopicAMMTrade, t.onTrade)
}

func (t *Tracker) onTrade(event any) {
	if t.tokens == nil {
		return
	}
	mint, at, ok := poolTradeMintAndTime(event)
	if !ok {
		return
	}

	ctx := context.Background()
	count, err := t.tokens.IncrementPoolTradeCount(ctx, mint)
	if err != nil {
		t.log.Warn("graduation: increment pool trade count failed", zap.String("mint", mint), zap.Error(err))
		return
	}
	if count != 1 {
		return // already graduated on an earlier pool trade
	}

	tok, found, err := t.tokens.GetToken(ctx, mint)
	if err != nil {
		t.log.Warn("graduation: get token failed", zap.String("mint", mint), zap.Error(err))
		return
	}
	if !found || tok.GraduatedToPool {
		return
	}
	if err := t.tokens.MarkGraduated(ctx, mint, at); err != nil {
		t.log.Warn("graduation: mark graduated failed", zap.String("mint", mint), zap.Error(err))
		return
	}
	t.log.Info("token graduated to pool", zap.String("mint", mint), zap.Time("graduation_at", at))
}

func poolTradeMintAndTime(event any) (string, time.Time, bool) {
	switch e := event.(type) {
	case parser.PoolTrade:
		return e.Mint, e.At, true
	case parser.ExternalPoolTrade:
		return e.Mint, e.At, true
	}
	return "", time.Time{}, false
}
