package client

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/accessnode/accessnode-go/pkg/link"
	"github.com/accessnode/accessnode-go/pkg/session"
)

// mockLink is a testify mock of Link. Subscribed callbacks are kept so
// tests can fire link events.
type mockLink struct {
	mock.Mock

	mu  sync.Mutex
	fns map[link.EventKind][]func()
}

func newMockLink() *mockLink {
	m := &mockLink{fns: make(map[link.EventKind][]func())}
	m.On("StationAddress").Return(net.HardwareAddr{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03}).Maybe()
	m.On("AssignedAddress").Return(netip.MustParseAddr("10.0.0.7")).Maybe()
	return m
}

func (m *mockLink) Subscribe(kind link.EventKind, fn func()) (func(), error) {
	args := m.Called(kind, fn)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.fns[kind] = append(m.fns[kind], fn)
	m.mu.Unlock()
	return func() {}, nil
}

func (m *mockLink) fire(kind link.EventKind) {
	m.mu.Lock()
	fns := append([]func(){}, m.fns[kind]...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *mockLink) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockLink) Stop() error {
	return m.Called().Error(0)
}

func (m *mockLink) StationAddress() net.HardwareAddr {
	return m.Called().Get(0).(net.HardwareAddr)
}

func (m *mockLink) AssignedAddress() netip.Addr {
	return m.Called().Get(0).(netip.Addr)
}

// fakeTransport records what the client does with the session.
type fakeTransport struct {
	mu      sync.Mutex
	open    bool
	uris    []string
	closes  int
	sent    [][]byte
	handler func(session.Event)
}

func (t *fakeTransport) Open(uri string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uris = append(t.uris, uri)
	t.open = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	t.open = false
	return nil
}

func (t *fakeTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return session.ErrNoResource
	}
	t.sent = append(t.sent, append([]byte(nil), payload...))
	return nil
}

func (t *fakeTransport) OnEvent(fn func(session.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// deliver hands ev to the client the way the session dispatcher does.
func (t *fakeTransport) deliver(ev session.Event) {
	t.mu.Lock()
	fn := t.handler
	t.mu.Unlock()
	fn(ev)
}

func (t *fakeTransport) sentFrames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, b := range t.sent {
		out[i] = string(b)
	}
	return out
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}
