// Package eventbus is the in-process typed publish/subscribe backbone (C8).
// Handlers run synchronously, in registration order, on the publishing
// goroutine; a panic or error inside one handler is logged and does not
// stop the others. Delivery is best-effort — there is no durability and no
// cross-process fan-out.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Well-known channel names from spec.md §6.
const (
	TopicStreamData          = "stream:data"
	TopicAMMTrade             = "amm:trade"
	TopicBondingCurveTrade    = "bc:trade"
	TopicTokenCreated         = "token:created"
	TopicChainStatsUpdated    = "chain:stats_updated"
	TopicChainForkAlert       = "chain:fork_alert"
	TopicBlockFinalized       = "block:finalized"
	TopicAlertCreated         = "alert:created"
	TopicAlertResolved        = "alert:resolved"
	TopicMigrationRequired    = "migrationRequired"
	TopicConnectionUnhealthy  = "connectionUnhealthy"
	TopicConnectionRecovered  = "connectionRecovered"
	TopicConnectionFailed     = "connectionFailed"
	TopicSignificantChanges   = "significant_changes"
	TopicBatchProgress        = "batch:progress"
)

// Handler receives an event payload for a single topic subscription.
type Handler func(event any)

// Bus is a lock-protected map of topic to ordered handler list.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	log      *zap.Logger
}

// New creates an empty Bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{handlers: make(map[string][]Handler), log: log}
}

// Subscribe registers a handler for topic, called in registration order on
// every Publish to that topic until the process exits or the bus is
// discarded. There is no Unsubscribe; callers that need to stop reacting
// check an external flag inside the handler.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish calls every handler registered for topic, synchronously, in
// registration order. A handler that panics is recovered and logged so one
// bad subscriber can't take down the publisher or its siblings.
func (b *Bus) Publish(topic string, event any) {
	b.mu.Lock()
	hs := make([]Handler, len(b.handlers[topic]))
	copy(hs, b.handlers[topic])
	b.mu.Unlock()

	for _, h := range hs {
		b.invoke(topic, h, event)
	}
}

func (b *Bus) invoke(topic string, h Handler, event any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus handler panicked",
				zap.String("topic", topic),
				zap.Any("recover", r),
			)
		}
	}()
	h(event)
}
