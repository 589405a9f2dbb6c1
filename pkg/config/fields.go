package config

import (
	"fmt"
	"sort"
	"strconv"
)

// field binds a console key to one configuration value.
type field struct {
	get    func(*Config) string
	set    func(*Config, string) error
	secret bool
}

func stringField(p func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func boolField(p func(*Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %q is not a boolean", ErrInvalid, v)
			}
			*p(c) = b
			return nil
		},
	}
}

func intField(p func(*Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %q is not a number", ErrInvalid, v)
			}
			*p(c) = n
			return nil
		},
	}
}

func secret(f field) field {
	f.secret = true
	return f
}

var fields = map[string]field{
	"device_kind": {
		get: func(c *Config) string { return string(c.DeviceKind) },
		set: func(c *Config, v string) error {
			k := DeviceKind(v)
			if !k.Valid() {
				return fmt.Errorf("%w: unknown device kind %q", ErrInvalid, v)
			}
			c.DeviceKind = k
			return nil
		},
	},
	"ws_url":                 stringField(func(c *Config) *string { return &c.Portal.WSURL }),
	"api_secret":             secret(stringField(func(c *Config) *string { return &c.Portal.APISecret })),
	"wifi_ssid":              stringField(func(c *Config) *string { return &c.Net.SSID }),
	"wifi_pass":              secret(stringField(func(c *Config) *string { return &c.Net.Pass })),
	"wifi_country":           stringField(func(c *Config) *string { return &c.Net.CountryCode }),
	"wifi_power":             intField(func(c *Config) *int { return &c.Net.TxPower }),
	"dfu_url":                stringField(func(c *Config) *string { return &c.DFU.URL }),
	"dfu_skip_cn_check":      boolField(func(c *Config) *bool { return &c.DFU.SkipCNCheck }),
	"dfu_skip_version_check": boolField(func(c *Config) *bool { return &c.DFU.SkipVersionCheck }),
	"fixed_unlock_delay":     intField(func(c *Config) *int { return &c.Door.FixedUnlockDelay }),
	"buzz_on_swipe":          boolField(func(c *Config) *bool { return &c.Door.BuzzOnSwipe }),
	"log_level":              stringField(func(c *Config) *string { return &c.Dev.LogLevel }),
}

// Keys returns the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the field named key. The result is validated as a
// whole; on error c is left unchanged.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: unknown key %q", ErrInvalid, key)
	}
	next := *c
	if err := f.set(&next, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Get returns the value of the field named key. Secrets are masked.
func (c *Config) Get(key string) (string, bool) {
	f, ok := fields[key]
	if !ok {
		return "", false
	}
	v := f.get(c)
	if f.secret && v != "" {
		v = "********"
	}
	return v, true
}
