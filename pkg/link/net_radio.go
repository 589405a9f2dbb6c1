package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"
)

// NetRadio defaults.
const (
	DefaultPollInterval       = time.Second
	DefaultAssociationTimeout = 10 * time.Second
)

// NetRadio drives a Manager from an interface the host OS manages. The
// host supplicant owns the credentials; association succeeds when the
// interface is up and holds an IPv4 address, and losing the address
// reports the link down.
type NetRadio struct {
	name    string
	poll    time.Duration
	timeout time.Duration
	logger  *slog.Logger

	// probe reads the interface state. Replaced in tests.
	probe func(name string) (ifaceStatus, error)

	events  chan RadioEvent
	assocCh chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mac    net.HardwareAddr
}

type ifaceStatus struct {
	up   bool
	mac  net.HardwareAddr
	addr netip.Addr
}

// NewNetRadio creates a NetRadio for the named interface.
func NewNetRadio(name string, logger *slog.Logger) *NetRadio {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NetRadio{
		name:    name,
		poll:    DefaultPollInterval,
		timeout: DefaultAssociationTimeout,
		logger:  logger.With("component", "netradio", "iface", name),
		probe:   probeInterface,
		events:  make(chan RadioEvent, 8),
		assocCh: make(chan struct{}, 1),
	}
}

// Configure records the parameters. They are informational only.
func (r *NetRadio) Configure(cfg RadioConfig) error {
	r.logger.Debug("radio configured", "ssid", cfg.SSID, "country", cfg.CountryCode, "tx_power", cfg.TxPower)
	return nil
}

// Start begins watching the interface.
func (r *NetRadio) Start(ctx context.Context) error {
	st, err := r.probe(r.name)
	if err != nil {
		return fmt.Errorf("netradio: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	r.mac = st.mac
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

// Stop ends watching.
func (r *NetRadio) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
	return nil
}

// Associate starts waiting for the interface to come up.
func (r *NetRadio) Associate() {
	select {
	case r.assocCh <- struct{}{}:
	default:
	}
}

// Events returns the notification channel.
func (r *NetRadio) Events() <-chan RadioEvent {
	return r.events
}

// HardwareAddr returns the interface MAC.
func (r *NetRadio) HardwareAddr() net.HardwareAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mac
}

func (r *NetRadio) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	var (
		associating bool
		associated  bool
		deadline    time.Time
	)

	check := func() {
		st, err := r.probe(r.name)
		ok := err == nil && st.up && st.addr.IsValid()
		switch {
		case associating && ok:
			associating, associated = false, true
			r.emit(ctx, RadioEvent{Kind: RadioAddressAssigned, Addr: st.addr})
		case associating && time.Now().After(deadline):
			associating = false
			if err == nil {
				err = fmt.Errorf("no IPv4 address on %s within %s", r.name, r.timeout)
			}
			r.emit(ctx, RadioEvent{Kind: RadioLinkDown, Err: err})
		case associated && !ok:
			associated = false
			if err == nil {
				err = fmt.Errorf("address lost on %s", r.name)
			}
			r.emit(ctx, RadioEvent{Kind: RadioLinkDown, Err: err})
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.assocCh:
			associating, associated = true, false
			deadline = time.Now().Add(r.timeout)
			check()
		case <-ticker.C:
			check()
		}
	}
}

func (r *NetRadio) emit(ctx context.Context, ev RadioEvent) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

func probeInterface(name string) (ifaceStatus, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return ifaceStatus{}, err
	}
	st := ifaceStatus{up: iface.Flags&net.FlagUp != 0, mac: iface.HardwareAddr}

	addrs, err := iface.Addrs()
	if err != nil {
		return st, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			st.addr, _ = netip.AddrFromSlice(v4)
			break
		}
	}
	return st, nil
}

var _ Radio = (*NetRadio)(nil)
