// Package config holds the device configuration tree, its compiled-in
// defaults and its persisted CBOR form.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration error: a required secret, URL or
// credential is missing or malformed. Configuration errors are fatal for
// the subsystem that needs the value and are never retried.
var ErrInvalid = errors.New("invalid configuration")

// MaxTxPower is the highest accepted transmit power setting.
const MaxTxPower = 80

//go:embed defaults.yaml
var defaultsYAML []byte

var defaults Config

func init() {
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		panic(fmt.Sprintf("config: invalid embedded defaults: %v", err))
	}
}

// DeviceKind selects the device personality.
type DeviceKind string

const (
	KindDoor      DeviceKind = "door"
	KindInterlock DeviceKind = "interlock"
	KindVending   DeviceKind = "vending"
)

// Valid reports whether k is a known kind.
func (k DeviceKind) Valid() bool {
	switch k {
	case KindDoor, KindInterlock, KindVending:
		return true
	}
	return false
}

// PathSegment returns the kind's name in the portal session URI.
// Vending machines are registered as "memberbucks" devices.
func (k DeviceKind) PathSegment() string {
	switch k {
	case KindDoor:
		return "door"
	case KindInterlock:
		return "interlock"
	case KindVending:
		return "memberbucks"
	default:
		return ""
	}
}

// Config is the complete device configuration.
type Config struct {
	DeviceKind DeviceKind `yaml:"device_kind" cbor:"1,keyasint"`
	Portal     Portal     `yaml:"portal" cbor:"2,keyasint"`
	Net        Net        `yaml:"net" cbor:"3,keyasint"`
	DFU        DFU        `yaml:"dfu" cbor:"4,keyasint"`
	Door       Door       `yaml:"door" cbor:"5,keyasint"`
	Dev        Dev        `yaml:"dev" cbor:"6,keyasint"`
}

// Portal configures the websocket session to the portal.
type Portal struct {
	// WSURL is the base websocket URL; the device kind and MAC are appended.
	WSURL string `yaml:"ws_url" cbor:"1,keyasint"`

	// APISecret is sent in the authenticate message.
	APISecret string `yaml:"api_secret" cbor:"2,keyasint"`
}

// Validate reports a missing URL or secret.
func (p Portal) Validate() error {
	if strings.TrimSpace(p.WSURL) == "" {
		return fmt.Errorf("%w: portal ws_url is empty", ErrInvalid)
	}
	if p.APISecret == "" {
		return fmt.Errorf("%w: portal api_secret is empty", ErrInvalid)
	}
	return nil
}

// Net configures the wireless link.
type Net struct {
	SSID        string `yaml:"ssid" cbor:"1,keyasint"`
	Pass        string `yaml:"pass" cbor:"2,keyasint"`
	CountryCode string `yaml:"country_code" cbor:"3,keyasint"`

	// TxPower is in radio units (0.25 dBm); 0 leaves the radio default.
	TxPower int `yaml:"tx_power" cbor:"4,keyasint"`
}

// Validate reports missing credentials or out-of-range radio settings.
func (n Net) Validate() error {
	if n.SSID == "" {
		return fmt.Errorf("%w: wifi ssid is empty", ErrInvalid)
	}
	if n.Pass == "" {
		return fmt.Errorf("%w: wifi passphrase is empty", ErrInvalid)
	}
	if n.CountryCode != "" && len(n.CountryCode) != 2 {
		return fmt.Errorf("%w: country code %q must be two letters", ErrInvalid, n.CountryCode)
	}
	if n.TxPower < 0 || n.TxPower > MaxTxPower {
		return fmt.Errorf("%w: tx power %d outside 0..%d", ErrInvalid, n.TxPower, MaxTxPower)
	}
	return nil
}

// DFU configures firmware updates. An empty URL disables them.
type DFU struct {
	URL              string `yaml:"url" cbor:"1,keyasint"`
	SkipCNCheck      bool   `yaml:"skip_cn_check" cbor:"2,keyasint"`
	SkipVersionCheck bool   `yaml:"skip_version_check" cbor:"3,keyasint"`
}

// Enabled reports whether an update URL is configured.
func (d DFU) Enabled() bool {
	return strings.TrimSpace(d.URL) != ""
}

// Door configures the door personality.
type Door struct {
	// FixedUnlockDelay is how long the lock stays released, in seconds.
	FixedUnlockDelay int  `yaml:"fixed_unlock_delay" cbor:"1,keyasint"`
	BuzzOnSwipe      bool `yaml:"buzz_on_swipe" cbor:"2,keyasint"`
}

// Dev holds developer settings.
type Dev struct {
	LogLevel string `yaml:"log_level" cbor:"1,keyasint"`
}

// Default returns a copy of the compiled-in configuration.
func Default() Config {
	return defaults
}

// Validate checks the parts every device needs. Portal and network
// settings are validated by the components that use them.
func (c Config) Validate() error {
	if !c.DeviceKind.Valid() {
		return fmt.Errorf("%w: unknown device kind %q", ErrInvalid, c.DeviceKind)
	}
	if c.Net.TxPower < 0 || c.Net.TxPower > MaxTxPower {
		return fmt.Errorf("%w: tx power %d outside 0..%d", ErrInvalid, c.Net.TxPower, MaxTxPower)
	}
	if c.Net.CountryCode != "" && len(c.Net.CountryCode) != 2 {
		return fmt.Errorf("%w: country code %q must be two letters", ErrInvalid, c.Net.CountryCode)
	}
	if c.Door.FixedUnlockDelay < 0 {
		return fmt.Errorf("%w: negative unlock delay", ErrInvalid)
	}
	if _, err := ParseLevel(c.Dev.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a configured log level name to a slog level.
// "verbose" is one step below debug.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "verbose":
		return slog.LevelDebug - 4, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalid, s)
	}
}
