package link

import (
	"encoding/hex"
	"net"
	"time"
)

var timeNow = time.Now

func hexMAC(mac net.HardwareAddr) string {
	return hex.EncodeToString(mac)
}
