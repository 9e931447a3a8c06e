package parser

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Dispatcher selects the first strategy for which CanParse is true and
// invokes it, recovering and counting any panic so one broken strategy
// never stops the stream.
type Dispatcher struct {
	strategies []Strategy
	log        *zap.Logger
	errors     atomic.Int64
}

// NewDispatcher builds a Dispatcher trying strategies in order.
func NewDispatcher(log *zap.Logger, strategies ...Strategy) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{strategies: strategies, log: log}
}

// Dispatch returns the events parsed from tx, or nil if no strategy claims
// it or parsing fails.
func (d *Dispatcher) Dispatch(tx Tx) []Event {
	for _, s := range d.strategies {
		if s.CanParse(tx) {
			return d.safeParse(s, tx)
		}
	}
	return nil
}

func (d *Dispatcher) safeParse(s Strategy, tx Tx) (events []Event) {
	defer func() {
		if r := recover(); r != nil {
			d.errors.Add(1)
			d.log.Error("parser strategy panicked",
				zap.String("strategy", s.Name()),
				zap.String("signature", tx.Signature),
				zap.Any("recover", r),
			)
			events = nil
		}
	}()
	return s.Parse(tx)
}

// ErrorCount returns the total number of parse failures observed so far.
func (d *Dispatcher) ErrorCount() int64 { return d.errors.Load() }
