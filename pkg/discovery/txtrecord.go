package discovery

import (
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/accessnode/accessnode-go/pkg/config"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for info.
func EncodeTXT(info Info) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyKind: string(info.Kind),
		TXTKeyMAC:  hex.EncodeToString(info.MAC),
	}
	if info.Firmware != "" {
		txt[TXTKeyFirmware] = info.Firmware
	}
	return txt
}

// DecodeTXT parses the TXT records of a peer.
func DecodeTXT(txt TXTRecordMap) (Info, error) {
	var info Info

	kind, ok := txt[TXTKeyKind]
	if !ok || kind == "" {
		return Info{}, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyKind)
	}
	info.Kind = config.DeviceKind(kind)
	if !info.Kind.Valid() {
		return Info{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidTXTRecord, kind)
	}

	mac, ok := txt[TXTKeyMAC]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyMAC)
	}
	raw, err := hex.DecodeString(mac)
	if err != nil || len(raw) != 6 {
		return Info{}, fmt.Errorf("%w: invalid mac %q", ErrInvalidTXTRecord, mac)
	}
	info.MAC = net.HardwareAddr(raw)

	info.Firmware = txt[TXTKeyFirmware]
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if !found && k == "" {
			continue
		}
		txt[k] = v
	}
	return txt
}
