package parser

import "strings"

// Fixed program identifiers used purely as dispatch discriminators, compared
// by equality against Tx.ProgramID; they are not read from configuration.
const (
	bondingCurveProgram = "bonding_curve_program"
	poolProgram         = "native_pool_program"
	tokenCreateLog      = "Instruction: Create"
)

// BondingCurveStrategy decodes trades against the initial bonding-curve
// market.
type BondingCurveStrategy struct{}

func (BondingCurveStrategy) Name() string { return "bonding_curve" }

func (BondingCurveStrategy) CanParse(tx Tx) bool {
	return !tx.Failed && tx.ProgramID == bondingCurveProgram && !hasLog(tx, tokenCreateLog)
}

func (BondingCurveStrategy) Parse(tx Tx) []Event {
	if len(tx.Accounts) < 2 {
		return nil
	}
	return []Event{BondingCurveTrade{
		Sig:        tx.Signature,
		SlotNumber: tx.Slot,
		Mint:       tx.Accounts[0],
		Trader:     tx.Accounts[1],
		At:         tx.BlockTime,
	}}
}

// PoolTradeStrategy decodes trades against a graduated, native AMM pool.
type PoolTradeStrategy struct{}

func (PoolTradeStrategy) Name() string { return "pool_trade" }

func (PoolTradeStrategy) CanParse(tx Tx) bool {
	return !tx.Failed && tx.ProgramID == poolProgram
}

func (PoolTradeStrategy) Parse(tx Tx) []Event {
	if len(tx.Accounts) < 3 {
		return nil
	}
	return []Event{PoolTrade{
		Sig:        tx.Signature,
		SlotNumber: tx.Slot,
		Mint:       tx.Accounts[0],
		PoolID:     tx.Accounts[1],
		Trader:     tx.Accounts[2],
		At:         tx.BlockTime,
	}}
}

// ExternalPoolStrategy decodes trades against a recognized external (non-
// native) AMM program.
type ExternalPoolStrategy struct {
	ExternalProgramIDs map[string]string // programID -> DEX label
}

func (ExternalPoolStrategy) Name() string { return "external_pool" }

func (s ExternalPoolStrategy) CanParse(tx Tx) bool {
	if tx.Failed {
		return false
	}
	_, ok := s.ExternalProgramIDs[tx.ProgramID]
	return ok
}

func (s ExternalPoolStrategy) Parse(tx Tx) []Event {
	if len(tx.Accounts) < 3 {
		return nil
	}
	return []Event{ExternalPoolTrade{
		Sig:        tx.Signature,
		SlotNumber: tx.Slot,
		Mint:       tx.Accounts[0],
		PoolID:     tx.Accounts[1],
		DEX:        s.ExternalProgramIDs[tx.ProgramID],
		Trader:     tx.Accounts[2],
		At:         tx.BlockTime,
	}}
}

// TokenCreationStrategy decodes a token's creation instruction.
type TokenCreationStrategy struct{}

func (TokenCreationStrategy) Name() string { return "token_creation" }

func (TokenCreationStrategy) CanParse(tx Tx) bool {
	return !tx.Failed && tx.ProgramID == bondingCurveProgram && hasLog(tx, tokenCreateLog)
}

func (TokenCreationStrategy) Parse(tx Tx) []Event {
	if len(tx.Accounts) < 2 {
		return nil
	}
	return []Event{TokenCreated{
		Sig:        tx.Signature,
		SlotNumber: tx.Slot,
		Mint:       tx.Accounts[0],
		Creator:    tx.Accounts[1],
		At:         tx.BlockTime,
	}}
}

func hasLog(tx Tx, substr string) bool {
	for _, l := range tx.LogMessages {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
