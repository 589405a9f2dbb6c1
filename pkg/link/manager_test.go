package link

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessnode/accessnode-go/pkg/config"
)

type fakeRadio struct {
	events  chan RadioEvent
	assoc   chan struct{}
	started atomic.Int32
	stopped atomic.Int32
	cfg     RadioConfig
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		events: make(chan RadioEvent, 16),
		assoc:  make(chan struct{}, 64),
	}
}

func (r *fakeRadio) Configure(cfg RadioConfig) error { r.cfg = cfg; return nil }
func (r *fakeRadio) Start(context.Context) error     { r.started.Add(1); return nil }
func (r *fakeRadio) Stop() error                     { r.stopped.Add(1); return nil }
func (r *fakeRadio) Associate()                      { r.assoc <- struct{}{} }
func (r *fakeRadio) Events() <-chan RadioEvent       { return r.events }
func (r *fakeRadio) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03}
}

func (r *fakeRadio) waitAssociate(t *testing.T) {
	t.Helper()
	select {
	case <-r.assoc:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for association attempt")
	}
}

func newTestManager(t *testing.T, radio *fakeRadio, maxRetries int) (*Manager, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	m := New(radio, Config{MaxRetries: maxRetries})
	require.NoError(t, m.Configure("makerspace", "hunter22", "AU", 80))

	var connected, disconnected atomic.Int32
	_, err := m.Subscribe(EventConnected, func() { connected.Add(1) })
	require.NoError(t, err)
	_, err = m.Subscribe(EventDisconnected, func() { disconnected.Add(1) })
	require.NoError(t, err)

	t.Cleanup(func() { m.Stop() })
	return m, &connected, &disconnected
}

func TestManagerRetriesThenConnects(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.7")

	for failures := 0; failures <= DefaultMaxRetries; failures++ {
		t.Run(fmt.Sprintf("failures=%d", failures), func(t *testing.T) {
			radio := newFakeRadio()
			m, connected, disconnected := newTestManager(t, radio, DefaultMaxRetries)
			require.NoError(t, m.Start(context.Background()))

			for i := 0; i < failures; i++ {
				radio.waitAssociate(t)
				radio.events <- RadioEvent{Kind: RadioLinkDown}
			}
			radio.waitAssociate(t)
			radio.events <- RadioEvent{Kind: RadioAddressAssigned, Addr: addr}

			require.Eventually(t, func() bool { return connected.Load() == 1 },
				time.Second, 5*time.Millisecond)
			assert.Equal(t, int32(0), disconnected.Load())
			assert.Equal(t, 0, m.Retries())
			assert.Equal(t, StateConnected, m.State())
			assert.Equal(t, addr, m.AssignedAddress())
			assert.Empty(t, radio.assoc, "no extra association attempts")
		})
	}
}

func TestManagerExhaustsRetries(t *testing.T) {
	radio := newFakeRadio()
	m, connected, disconnected := newTestManager(t, radio, 2)
	require.NoError(t, m.Start(context.Background()))

	// Initial attempt plus two retries.
	for i := 0; i < 3; i++ {
		radio.waitAssociate(t)
		radio.events <- RadioEvent{Kind: RadioLinkDown}
	}

	require.Eventually(t, func() bool { return disconnected.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), connected.Load())
	assert.Equal(t, 0, m.Retries())

	// The supervisor starts a fresh round on its own.
	radio.waitAssociate(t)
	assert.Equal(t, StateAssociating, m.State())

	radio.events <- RadioEvent{Kind: RadioAddressAssigned, Addr: netip.MustParseAddr("10.0.0.8")}
	require.Eventually(t, func() bool { return connected.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestManagerLinkLossRetries(t *testing.T) {
	radio := newFakeRadio()
	m, connected, disconnected := newTestManager(t, radio, DefaultMaxRetries)
	require.NoError(t, m.Start(context.Background()))

	radio.waitAssociate(t)
	radio.events <- RadioEvent{Kind: RadioAddressAssigned, Addr: netip.MustParseAddr("10.0.0.7")}
	require.Eventually(t, func() bool { return connected.Load() == 1 },
		time.Second, 5*time.Millisecond)

	radio.events <- RadioEvent{Kind: RadioLinkDown}
	radio.waitAssociate(t)
	assert.Equal(t, int32(0), disconnected.Load(), "a single loss is retried silently")
	assert.False(t, m.AssignedAddress().IsValid())
}

func TestManagerConfigure(t *testing.T) {
	tests := []struct {
		name    string
		ssid    string
		pass    string
		country string
		power   int
		wantErr bool
	}{
		{"valid", "net", "secret", "AU", 80, false},
		{"empty ssid", "", "secret", "AU", 80, true},
		{"empty passphrase", "net", "", "AU", 80, true},
		{"bad country", "net", "secret", "AUS", 80, true},
		{"power too high", "net", "secret", "AU", 81, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(newFakeRadio(), Config{})
			err := m.Configure(tt.ssid, tt.pass, tt.country, tt.power)
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerStartRequiresConfigure(t *testing.T) {
	radio := newFakeRadio()
	m := New(radio, Config{})
	err := m.Start(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, int32(0), radio.started.Load())
}

func TestManagerRestart(t *testing.T) {
	radio := newFakeRadio()
	m, connected, _ := newTestManager(t, radio, DefaultMaxRetries)

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)
	radio.waitAssociate(t)
	radio.events <- RadioEvent{Kind: RadioAddressAssigned, Addr: netip.MustParseAddr("10.0.0.7")}
	require.Eventually(t, func() bool { return connected.Load() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.Equal(t, StateIdle, m.State())
	assert.False(t, m.AssignedAddress().IsValid())
	assert.Equal(t, int32(1), radio.stopped.Load())

	require.NoError(t, m.Start(context.Background()))
	radio.waitAssociate(t)
	radio.events <- RadioEvent{Kind: RadioAddressAssigned, Addr: netip.MustParseAddr("10.0.0.9")}
	require.Eventually(t, func() bool { return connected.Load() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), radio.started.Load())
}

func TestManagerSubscribe(t *testing.T) {
	m := New(newFakeRadio(), Config{})

	_, err := m.Subscribe(EventKind(9), func() {})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	var unsubs []func()
	for i := 0; i < MaxSubscribers; i++ {
		unsub, err := m.Subscribe(EventConnected, func() {})
		require.NoError(t, err)
		unsubs = append(unsubs, unsub)
	}
	_, err = m.Subscribe(EventConnected, func() {})
	assert.ErrorIs(t, err, ErrTooManySubscribers)

	unsubs[3]()
	unsubs[3]()
	_, err = m.Subscribe(EventDisconnected, func() {})
	assert.NoError(t, err)
}

func TestManagerOneShotSubscriber(t *testing.T) {
	radio := newFakeRadio()
	m, connected, _ := newTestManager(t, radio, DefaultMaxRetries)

	var fired atomic.Int32
	var unsub func()
	unsub, err := m.Subscribe(EventConnected, func() {
		fired.Add(1)
		unsub()
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	for want := int32(1); want <= 2; want++ {
		radio.waitAssociate(t)
		radio.events <- RadioEvent{Kind: RadioAddressAssigned, Addr: netip.MustParseAddr("10.0.0.7")}
		require.Eventually(t, func() bool { return connected.Load() == want },
			time.Second, 5*time.Millisecond)
		radio.events <- RadioEvent{Kind: RadioLinkDown}
	}
	assert.Equal(t, int32(1), fired.Load())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateAssociating, "ASSOCIATING"},
		{StateConnected, "CONNECTED"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
