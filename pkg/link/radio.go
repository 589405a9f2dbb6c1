package link

import (
	"context"
	"net"
	"net/netip"
)

// RadioConfig carries the association parameters handed to a Radio.
type RadioConfig struct {
	SSID        string
	Passphrase  string
	CountryCode string
	TxPower     int
}

// RadioEventKind identifies a radio notification.
type RadioEventKind uint8

const (
	// RadioLinkDown reports a failed association attempt or a lost link.
	RadioLinkDown RadioEventKind = iota + 1

	// RadioAddressAssigned reports that the station obtained an address.
	RadioAddressAssigned
)

// String returns the event kind name.
func (k RadioEventKind) String() string {
	switch k {
	case RadioLinkDown:
		return "LINK_DOWN"
	case RadioAddressAssigned:
		return "ADDRESS_ASSIGNED"
	default:
		return "UNKNOWN"
	}
}

// RadioEvent is a notification from the radio driver.
type RadioEvent struct {
	Kind RadioEventKind

	// Addr is set for RadioAddressAssigned.
	Addr netip.Addr

	// Err optionally explains a RadioLinkDown.
	Err error
}

// Radio is the station-mode wireless driver. Driver notifications are
// delivered on Events and processed by the Manager's own goroutine.
type Radio interface {
	// Configure applies association parameters. Called before Start.
	Configure(cfg RadioConfig) error

	// Start powers the radio up. The context bounds the radio's background
	// work.
	Start(ctx context.Context) error

	// Stop powers the radio down.
	Stop() error

	// Associate begins one association attempt and returns immediately.
	// The outcome arrives on Events.
	Associate()

	// Events returns the notification channel. It lives as long as the
	// Radio and is never closed by Stop.
	Events() <-chan RadioEvent

	// HardwareAddr returns the station MAC address.
	HardwareAddr() net.HardwareAddr
}
