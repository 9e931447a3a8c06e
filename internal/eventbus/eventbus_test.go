package eventbus

import "testing"

func TestPublishCallsHandlersInOrder(t *testing.T) {
	b := New(nil)
	var order []int

	b.Subscribe("x", func(any) { order = append(order, 1) })
	b.Subscribe("x", func(any) { order = append(order, 2) })
	b.Subscribe("x", func(any) { order = append(order, 3) })

	b.Publish("x", nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := New(nil)
	called := false

	b.Subscribe("x", func(any) { panic("boom") })
	b.Subscribe("x", func(any) { called = true })

	b.Publish("x", nil)

	if !called {
		t.Fatal("second handler was not called after first panicked")
	}
}

func TestPublishUnknownTopicIsNoop(t *testing.T) {
	b := New(nil)
	b.Publish("nonexistent", "payload")
}
