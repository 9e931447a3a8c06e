// Package parser decodes raw upstream transactions into typed trade/token
// events (C6). Parsers are pure (no I/O except logging); a parser failure
// increments an error counter and produces zero events for that
// transaction rather than stopping the stream.
package parser

import "time"

// Tx is the minimal transaction shape parsers inspect. Real callers adapt
// the upstream pb.SubscribeUpdateTransaction into this shape so parser
// logic stays decoupled from the wire format (spec.md §9: model each
// parsed trade as a tagged variant, dispatch as a pattern match).
type Tx struct {
	Signature  string
	Slot       uint64
	ProgramID  string
	Accounts   []string
	LogMessages []string
	Failed     bool
	BlockTime  time.Time
	Raw        any // original upstream message, for parsers needing more detail
}

// Event is the sealed set of parsed trade/token event variants.
type Event interface {
	isEvent()
	Signature() string
	Slot() uint64
}

// BondingCurveTrade is a trade against a token's initial bonding-curve
// market.
type BondingCurveTrade struct {
	Sig        string
	SlotNumber uint64
	Mint       string
	Trader     string
	IsBuy      bool
	AmountIn   uint64
	AmountOut  uint64
	At         time.Time
}

func (BondingCurveTrade) isEvent()          {}
func (e BondingCurveTrade) Signature() string { return e.Sig }
func (e BondingCurveTrade) Slot() uint64       { return e.SlotNumber }

// PoolTrade is a trade against a graduated AMM pool.
type PoolTrade struct {
	Sig        string
	SlotNumber uint64
	Mint       string
	PoolID     string
	Trader     string
	IsBuy      bool
	AmountIn   uint64
	AmountOut  uint64
	At         time.Time
}

func (PoolTrade) isEvent()            {}
func (e PoolTrade) Signature() string { return e.Sig }
func (e PoolTrade) Slot() uint64      { return e.SlotNumber }

// ExternalPoolTrade is a trade against a pool from an external (non-native)
// AMM program.
type ExternalPoolTrade struct {
	Sig        string
	SlotNumber uint64
	Mint       string
	PoolID     string
	DEX        string
	Trader     string
	IsBuy      bool
	AmountIn   uint64
	AmountOut  uint64
	At         time.Time
}

func (ExternalPoolTrade) isEvent()            {}
func (e ExternalPoolTrade) Signature() string { return e.Sig }
func (e ExternalPoolTrade) Slot() uint64       { return e.SlotNumber }

// TokenCreated marks the first observation of a new bonding-curve token.
type TokenCreated struct {
	Sig        string
	SlotNumber uint64
	Mint       string
	Creator    string
	Symbol     string
	Name       string
	At         time.Time
}

func (TokenCreated) isEvent()            {}
func (e TokenCreated) Signature() string { return e.Sig }
func (e TokenCreated) Slot() uint64       { return e.SlotNumber }

// Strategy is the polymorphic parser capability set (spec.md §4.6).
type Strategy interface {
	Name() string
	CanParse(tx Tx) bool
	Parse(tx Tx) []Event
}
