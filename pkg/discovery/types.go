package discovery

import (
	"encoding/hex"
	"errors"
	"net"
	"time"

	"github.com/accessnode/accessnode-go/pkg/config"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service advertised by devices.
	ServiceType = "_device-info._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// AdvertisedPort is the port in the SRV record (discard).
	AdvertisedPort = 9

	// InstancePrefix starts every instance name.
	InstancePrefix = "accessnode-"
)

// TXT record keys.
const (
	TXTKeyKind     = "kind"
	TXTKeyMAC      = "mac"
	TXTKeyFirmware = "fw"
)

// Timing.
const (
	// DefaultTTL is the DNS record TTL.
	DefaultTTL = 120 * time.Second

	// BrowseTimeout is the default duration of a peer scan.
	BrowseTimeout = 3 * time.Second
)

// MaxInstanceNameLen is the DNS label limit.
const MaxInstanceNameLen = 63

// Discovery errors.
var (
	ErrInvalidTXTRecord = errors.New("invalid TXT record format")
	ErrMissingRequired  = errors.New("missing required field")
	ErrNotAdvertising   = errors.New("not advertising")
)

// Info is what a device publishes about itself.
type Info struct {
	Kind     config.DeviceKind
	MAC      net.HardwareAddr
	Firmware string
}

// InstanceName returns "accessnode-<mac>".
func (i Info) InstanceName() string {
	name := InstancePrefix + hex.EncodeToString(i.MAC)
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// Peer is a device found on the network.
type Peer struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	Info         Info
}
