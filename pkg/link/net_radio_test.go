package link

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"
)

type probeScript struct {
	mu sync.Mutex
	st ifaceStatus
}

func (p *probeScript) set(st ifaceStatus) {
	p.mu.Lock()
	p.st = st
	p.mu.Unlock()
}

func (p *probeScript) probe(string) (ifaceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st, nil
}

func newTestNetRadio(p *probeScript) *NetRadio {
	r := NewNetRadio("wlan0", nil)
	r.poll = 5 * time.Millisecond
	r.timeout = 50 * time.Millisecond
	r.probe = p.probe
	return r
}

func nextEvent(t *testing.T, r *NetRadio) RadioEvent {
	t.Helper()
	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for radio event")
		return RadioEvent{}
	}
}

func TestNetRadioAssociates(t *testing.T) {
	mac := net.HardwareAddr{0x24, 0x0a, 0xc4, 0xaa, 0xbb, 0xcc}
	p := &probeScript{st: ifaceStatus{up: true, mac: mac}}
	r := newTestNetRadio(p)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	if got := r.HardwareAddr().String(); got != mac.String() {
		t.Errorf("HardwareAddr() = %s, want %s", got, mac)
	}

	r.Associate()
	p.set(ifaceStatus{up: true, mac: mac, addr: netip.MustParseAddr("192.168.1.20")})

	ev := nextEvent(t, r)
	if ev.Kind != RadioAddressAssigned {
		t.Fatalf("event = %s, want ADDRESS_ASSIGNED", ev.Kind)
	}
	if ev.Addr.String() != "192.168.1.20" {
		t.Errorf("Addr = %s, want 192.168.1.20", ev.Addr)
	}

	// Losing the address reports the link down.
	p.set(ifaceStatus{up: true, mac: mac})
	ev = nextEvent(t, r)
	if ev.Kind != RadioLinkDown {
		t.Errorf("event = %s, want LINK_DOWN", ev.Kind)
	}
}

func TestNetRadioAssociationTimeout(t *testing.T) {
	p := &probeScript{st: ifaceStatus{up: false}}
	r := newTestNetRadio(p)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	r.Associate()
	ev := nextEvent(t, r)
	if ev.Kind != RadioLinkDown {
		t.Fatalf("event = %s, want LINK_DOWN", ev.Kind)
	}
	if ev.Err == nil {
		t.Error("expected a timeout reason")
	}
}

func TestNetRadioStartUnknownInterface(t *testing.T) {
	r := NewNetRadio("wlan0", nil)
	r.probe = func(string) (ifaceStatus, error) { return ifaceStatus{}, errors.New("no such interface") }
	if err := r.Start(context.Background()); err == nil {
		t.Error("Start() error = nil, want error")
	}
}

func TestProbeLoopback(t *testing.T) {
	ifaces, err := net.Interfaces()
	if err != nil {
		t.Skipf("cannot list interfaces: %v", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback == 0 {
			continue
		}
		st, err := probeInterface(iface.Name)
		if err != nil {
			t.Fatalf("probeInterface(%s) error = %v", iface.Name, err)
		}
		if st.addr.IsValid() && !st.addr.Is4() {
			t.Errorf("probeInterface(%s) addr = %s, want IPv4", iface.Name, st.addr)
		}
		return
	}
	t.Skip("no loopback interface")
}
