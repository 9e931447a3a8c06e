package stream

import (
	"context"
	"sync"
)

// fakeClient is a minimal in-memory Client used by pool/manager tests. It
// never dials anything; SetFilter/ClearFilter just record state, and
// Connect stores the callbacks so the test can push messages directly.
type fakeClient struct {
	mu           sync.Mutex
	id           string
	onMessage    func(RawMessage)
	onError      func(error)
	filters      map[string]FilterSpec
	closed       bool
	connectCount int
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id, filters: make(map[string]FilterSpec)}
}

func (f *fakeClient) Connect(ctx context.Context, onMessage func(RawMessage), onError func(error)) error {
	f.mu.Lock()
	f.onMessage = onMessage
	f.onError = onError
	f.connectCount++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) triggerError(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakeClient) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCount
}

func (f *fakeClient) SetFilter(spec FilterSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters[spec.GroupName] = spec
	return nil
}

func (f *fakeClient) ClearFilter(groupName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.filters, groupName)
	return nil
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// push delivers a message to whatever onMessage was registered, simulating
// an inbound upstream message.
func (f *fakeClient) push(msg RawMessage) {
	f.mu.Lock()
	cb := f.onMessage
	f.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func newFakeClientFactory() (ClientFactory, *sync.Map) {
	clients := &sync.Map{}
	factory := func(id string) Client {
		c := newFakeClient(id)
		clients.Store(id, c)
		return c
	}
	return factory, clients
}
