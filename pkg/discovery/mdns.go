package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// registration is a live zeroconf service.
type registration struct {
	shutdown func()
	setText  func(txt []string)
}

type registerFunc func(instance string, port int, txt []string, ifaces []net.Interface, ttl time.Duration) (*registration, error)

func zeroconfRegister(instance string, port int, txt []string, ifaces []net.Interface, ttl time.Duration) (*registration, error) {
	var opts []zeroconf.ServerOption
	if ttl > 0 {
		opts = append(opts, zeroconf.TTL(uint32(ttl.Seconds())))
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, ifaces, opts...)
	if err != nil {
		return nil, err
	}
	return &registration{
		shutdown: func() { server.Shutdown() },
		setText:  func(txt []string) { server.SetText(txt) },
	}, nil
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the DNS record TTL (default DefaultTTL).
	TTL time.Duration

	// Logger for operational logs. If nil, logging is disabled.
	Logger *slog.Logger
}

// Advertiser publishes the device's service record.
type Advertiser struct {
	config   AdvertiserConfig
	register registerFunc
	logger   *slog.Logger

	mu       sync.Mutex
	server   *registration
	instance string
}

// NewAdvertiser creates an mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Advertiser{
		config:   config,
		register: zeroconfRegister,
		logger:   config.Logger.With("component", "discovery"),
	}
}

// getInterfaces returns the network interfaces to use for advertising.
// Returns nil to use all interfaces.
func (a *Advertiser) getInterfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("advertising on all interfaces", "interface", a.config.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise starts advertising info, replacing any current record.
func (a *Advertiser) Advertise(info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.shutdown()
		a.server = nil
	}

	instance := info.InstanceName()
	txt := TXTRecordsToStrings(EncodeTXT(info))
	server, err := a.register(instance, AdvertisedPort, txt, a.getInterfaces(), a.config.TTL)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", instance, err)
	}

	a.server = server
	a.instance = instance
	a.logger.Info("advertising", "instance", instance, "service", ServiceType)
	return nil
}

// Update replaces the TXT records of the current advertisement.
func (a *Advertiser) Update(info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.setText(TXTRecordsToStrings(EncodeTXT(info)))
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.shutdown()
	a.server = nil
	a.logger.Info("advertisement withdrawn", "instance", a.instance)
}

// Advertising returns the advertised instance name, or "" when idle.
func (a *Advertiser) Advertising() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ""
	}
	return a.instance
}
