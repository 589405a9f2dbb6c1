package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessnode/accessnode-go/pkg/config"
)

var testMAC = net.HardwareAddr{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03}

func TestInstanceName(t *testing.T) {
	info := Info{Kind: config.KindDoor, MAC: testMAC}
	assert.Equal(t, "accessnode-240ac4010203", info.InstanceName())
}

func TestEncodeDecodeTXT(t *testing.T) {
	info := Info{Kind: config.KindVending, MAC: testMAC, Firmware: "1.2.0"}

	strs := TXTRecordsToStrings(EncodeTXT(info))
	assert.Equal(t, []string{"fw=1.2.0", "kind=vending", "mac=240ac4010203"}, strs)

	got, err := DecodeTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestEncodeTXTOmitsEmptyFirmware(t *testing.T) {
	txt := EncodeTXT(Info{Kind: config.KindDoor, MAC: testMAC})
	_, ok := txt[TXTKeyFirmware]
	assert.False(t, ok)
}

func TestDecodeTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"missing kind", TXTRecordMap{"mac": "240ac4010203"}, ErrMissingRequired},
		{"unknown kind", TXTRecordMap{"kind": "toaster", "mac": "240ac4010203"}, ErrInvalidTXTRecord},
		{"missing mac", TXTRecordMap{"kind": "door"}, ErrMissingRequired},
		{"short mac", TXTRecordMap{"kind": "door", "mac": "240ac4"}, ErrInvalidTXTRecord},
		{"bad mac", TXTRecordMap{"kind": "door", "mac": "zz0ac4010203"}, ErrInvalidTXTRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTXT(tt.txt)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"a=1", "flag", "b=x=y", ""})
	assert.Equal(t, TXTRecordMap{"a": "1", "flag": "", "b": "x=y"}, txt)
}
