package interactive

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessnode/accessnode-go/pkg/config"
	"github.com/accessnode/accessnode-go/pkg/device"
	"github.com/accessnode/accessnode-go/pkg/discovery"
)

type fakeDevice struct {
	cfg       config.Config
	lockedOut bool
	swiped    []uint32
	restarts  []string
	peers     []discovery.Peer
	saveErr   error
}

func (d *fakeDevice) Config() config.Config { return d.cfg }

func (d *fakeDevice) SetConfig(key, value string) error {
	if d.saveErr != nil {
		return d.saveErr
	}
	return d.cfg.Set(key, value)
}

func (d *fakeDevice) FactoryReset() error {
	d.cfg = config.Default()
	return nil
}

func (d *fakeDevice) Status() Status {
	return Status{Kind: d.cfg.DeviceKind, Firmware: "1.0.0", Slot: "a", LinkState: "CONNECTED", LockedOut: d.lockedOut}
}

func (d *fakeDevice) Swipe(card uint32) (device.Decision, error) {
	d.swiped = append(d.swiped, card)
	if card == 1 {
		return device.Granted, nil
	}
	return device.Denied, nil
}

func (d *fakeDevice) SetLockout(v bool) error {
	d.lockedOut = v
	return nil
}

func (d *fakeDevice) Peers(context.Context) ([]discovery.Peer, error) {
	return d.peers, nil
}

func (d *fakeDevice) Restart(reason string) {
	d.restarts = append(d.restarts, reason)
}

func newTestConsole() (*Console, *fakeDevice, *bytes.Buffer) {
	dev := &fakeDevice{cfg: config.Default()}
	var out bytes.Buffer
	return &Console{dev: dev, out: &out, browseTimeout: 10 * time.Millisecond}, dev, &out
}

func TestSetAndShow(t *testing.T) {
	c, dev, out := newTestConsole()
	ctx := context.Background()

	assert.False(t, c.execute(ctx, "set wifi_ssid hackerspace"))
	assert.Equal(t, "hackerspace", dev.cfg.Net.SSID)
	assert.Contains(t, out.String(), "wifi_ssid updated")

	assert.False(t, c.execute(ctx, "set api_secret s3cret"))
	out.Reset()
	c.execute(ctx, "show")
	assert.Contains(t, out.String(), "hackerspace")
	assert.NotContains(t, out.String(), "s3cret")
}

func TestSetErrors(t *testing.T) {
	c, dev, out := newTestConsole()
	ctx := context.Background()

	c.execute(ctx, "set")
	assert.Contains(t, out.String(), "Usage")

	out.Reset()
	c.execute(ctx, "set no_such_key 1")
	assert.Contains(t, out.String(), "Error")

	out.Reset()
	dev.saveErr = errors.New("disk full")
	c.execute(ctx, "set wifi_ssid x")
	assert.Contains(t, out.String(), "disk full")
}

func TestFactoryReset(t *testing.T) {
	c, dev, _ := newTestConsole()
	dev.cfg.Net.SSID = "changed"

	c.execute(context.Background(), "factory-reset")
	assert.Equal(t, config.Default(), dev.cfg)
}

func TestSwipeCommand(t *testing.T) {
	c, dev, out := newTestConsole()
	ctx := context.Background()

	c.execute(ctx, "swipe 1")
	c.execute(ctx, "swipe 2")
	c.execute(ctx, "swipe notacard")
	assert.Equal(t, []uint32{1, 2}, dev.swiped)
	assert.Contains(t, out.String(), "Card 1: GRANTED")
	assert.Contains(t, out.String(), "Card 2: DENIED")
	assert.Contains(t, out.String(), "Invalid card number")
}

func TestLockoutCommand(t *testing.T) {
	c, dev, out := newTestConsole()
	ctx := context.Background()

	c.execute(ctx, "lockout on")
	assert.True(t, dev.lockedOut)
	c.execute(ctx, "lockout off")
	assert.False(t, dev.lockedOut)
	c.execute(ctx, "lockout maybe")
	assert.Contains(t, out.String(), "Usage: lockout on|off")
}

func TestStatusAndPeers(t *testing.T) {
	c, dev, out := newTestConsole()
	ctx := context.Background()

	c.execute(ctx, "status")
	assert.Contains(t, out.String(), "CONNECTED")

	out.Reset()
	c.execute(ctx, "peers")
	assert.Contains(t, out.String(), "No devices found")

	dev.peers = []discovery.Peer{{
		InstanceName: "accessnode-240ac4010203",
		Addresses:    []string{"10.0.0.7"},
		Info:         discovery.Info{Kind: config.KindDoor, Firmware: "1.1.0"},
	}}
	out.Reset()
	c.execute(ctx, "peers")
	assert.Contains(t, out.String(), "accessnode-240ac4010203")
	assert.Contains(t, out.String(), "10.0.0.7")
}

func TestQuitAndUnknown(t *testing.T) {
	c, dev, out := newTestConsole()
	ctx := context.Background()

	assert.False(t, c.execute(ctx, ""))
	assert.False(t, c.execute(ctx, "frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	assert.False(t, c.execute(ctx, "restart"))
	require.Len(t, dev.restarts, 1)

	assert.True(t, c.execute(ctx, "quit"))
}
