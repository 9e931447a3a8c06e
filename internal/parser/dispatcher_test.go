package parser

import "testing"

func TestDispatchPicksFirstMatchingStrategy(t *testing.T) {
	d := NewDispatcher(nil, TokenCreationStrategy{}, BondingCurveStrategy{})

	creation := Tx{Signature: "sig1", ProgramID: bondingCurveProgram, Accounts: []string{"mint", "creator"}, LogMessages: []string{"Program log: Instruction: Create"}}
	events := d.Dispatch(creation)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].(TokenCreated); !ok {
		t.Fatalf("expected TokenCreated, got %T", events[0])
	}

	trade := Tx{Signature: "sig2", ProgramID: bondingCurveProgram, Accounts: []string{"mint", "trader"}}
	events = d.Dispatch(trade)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].(BondingCurveTrade); !ok {
		t.Fatalf("expected BondingCurveTrade, got %T", events[0])
	}
}

func TestDispatchIsDeterministic(t *testing.T) {
	d := NewDispatcher(nil, BondingCurveStrategy{})
	tx := Tx{Signature: "sig", ProgramID: bondingCurveProgram, Accounts: []string{"mint", "trader"}}

	first := d.Dispatch(tx)
	second := d.Dispatch(tx)

	if len(first) != len(second) {
		t.Fatalf("expected deterministic output, got %d vs %d events", len(first), len(second))
	}
	if first[0].Signature() != second[0].Signature() {
		t.Fatal("expected identical signature across repeated parses")
	}
}

func TestDispatchNoMatchReturnsNil(t *testing.T) {
	d := NewDispatcher(nil, BondingCurveStrategy{})
	tx := Tx{Signature: "sig", ProgramID: "unknown_program"}
	if events := d.Dispatch(tx); events != nil {
		t.Fatalf("expected nil for unmatched tx, got %v", events)
	}
}

func TestPanickingStrategyIncrementsErrorCountAndReturnsNil(t *testing.T) {
	d := NewDispatcher(nil, panicStrategy{})
	events := d.Dispatch(Tx{Signature: "sig"})
	if events != nil {
		t.Fatal("expected nil events from panicking strategy")
	}
	if d.ErrorCount() != 1 {
		t.Fatalf("expected error count 1, got %d", d.ErrorCount())
	}
}

type panicStrategy struct{}

func (panicStrategy) Name() string         { return "panic" }
func (panicStrategy) CanParse(tx Tx) bool  { return true }
func (panicStrategy) Parse(tx Tx) []Event  { panic("boom") }
