package protocol

import (
	"encoding/hex"
	"net"
	"strings"
)

// BuildURI returns the portal session URI for a device:
// base/kind/mac, with the MAC as lowercase hex in transmission order.
func BuildURI(base, kind string, mac net.HardwareAddr) string {
	return strings.TrimRight(base, "/") + "/" + kind + "/" + hex.EncodeToString(mac)
}
