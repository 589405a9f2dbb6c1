package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/accessnode/accessnode-go/cmd/accessnode/interactive"
	"github.com/accessnode/accessnode-go/pkg/client"
	"github.com/accessnode/accessnode-go/pkg/config"
	"github.com/accessnode/accessnode-go/pkg/device"
	"github.com/accessnode/accessnode-go/pkg/discovery"
	"github.com/accessnode/accessnode-go/pkg/link"
	alog "github.com/accessnode/accessnode-go/pkg/log"
	"github.com/accessnode/accessnode-go/pkg/nvstate"
	"github.com/accessnode/accessnode-go/pkg/protocol"
	"github.com/accessnode/accessnode-go/pkg/session"
	"github.com/accessnode/accessnode-go/pkg/slot"
	"github.com/accessnode/accessnode-go/pkg/system"
	"github.com/accessnode/accessnode-go/pkg/update"
)

// Files below the data directory.
const (
	stateFile = "nvstate.db"
	tagsFile  = "tags.txt"
	slotsDir  = "slots"
)

// errOffline is returned by access logs while no portal client exists.
var errOffline = errors.New("portal client not configured")

// options are the command-line settings.
type options struct {
	DataDir     string
	ConfigFile  string
	Interface   string
	LogLevel    string
	CapturePath string
	Interactive bool
}

// app owns every component of the running device.
type app struct {
	opts      options
	logger    *slog.Logger
	capture   alog.Logger
	closers   []func() error
	restarter *system.ExitRestarter

	store    *nvstate.Store
	cfg      config.Config
	slots    *slot.FileSlots
	link     *link.Manager
	session  *session.Session
	client   *client.Client
	door     *device.Door
	updater  *update.Manager
	adv      *discovery.Advertiser
	browser  *discovery.Browser
	presence *discovery.Presence

	mu sync.Mutex
}

// newApp opens persistent state, settles a pending boot verification and
// builds the components. Configuration errors disable the subsystem that
// needs the value; storage errors are fatal.
func newApp(opts options, logger *slog.Logger) (*app, error) {
	a := &app{opts: opts, logger: logger}
	a.restarter = system.NewExitRestarter(logger)

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if err := a.openCapture(); err != nil {
		return nil, err
	}

	store, err := nvstate.Open(filepath.Join(opts.DataDir, stateFile))
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	if err := store.Init(); err != nil {
		a.close()
		return nil, err
	}

	cfg, err := config.Load(store, logger)
	if err != nil {
		logger.Error("stored configuration unusable, using defaults", "error", err)
	}
	if opts.ConfigFile != "" {
		if cfg, err = config.LoadFile(opts.ConfigFile, cfg); err != nil {
			a.close()
			return nil, err
		}
	}
	a.cfg = cfg

	slots, err := slot.Open(filepath.Join(opts.DataDir, slotsDir), version, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.slots = slots

	rolledBack, err := update.VerifyBoot(slots, a.diagnostics(), a.restarter, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	if rolledBack {
		// The restarter has already exited outside tests.
		a.close()
		return nil, errors.New("rolled back to previous firmware")
	}

	if err := a.build(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openCapture() error {
	if a.opts.CapturePath == "" {
		return nil
	}
	fl, err := alog.NewFileLogger(a.opts.CapturePath)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	a.capture = fl
	a.closers = append(a.closers, fl.Close)
	if a.logger.Enabled(context.Background(), slog.LevelDebug-4) {
		a.capture = alog.NewMultiLogger(fl, alog.NewSlogAdapter(a.logger))
	}
	return nil
}

// diagnostics reports whether the running image came up healthy enough
// to be trusted: its state store works and its configuration is usable.
func (a *app) diagnostics() bool {
	if _, err := a.store.LockedOut(); err != nil {
		a.logger.Error("diagnostics: state store unreadable", "error", err)
		return false
	}
	if err := a.cfg.Validate(); err != nil {
		a.logger.Error("diagnostics: configuration invalid", "error", err)
		return false
	}
	return true
}

func (a *app) build() error {
	cfg := a.cfg

	a.link = link.New(link.NewNetRadio(a.opts.Interface, a.logger), link.Config{
		Logger:  a.logger,
		Capture: a.capture,
	})
	if err := a.link.Configure(cfg.Net.SSID, cfg.Net.Pass, cfg.Net.CountryCode, cfg.Net.TxPower); err != nil {
		a.logger.Error("link not configured", "error", err)
	}

	a.session = session.New(session.Config{Logger: a.logger, Capture: a.capture})

	c, err := client.New(client.Config{
		Portal:     cfg.Portal,
		DeviceKind: cfg.DeviceKind,
		Logger:     a.logger,
		Capture:    a.capture,
	}, a.link, a.session)
	if err != nil {
		a.logger.Error("portal client disabled", "error", err)
	} else {
		a.client = c
	}

	tags, err := device.LoadTagList(filepath.Join(a.opts.DataDir, tagsFile))
	if err != nil {
		return err
	}
	var sender device.Sender = offlineSender{}
	if a.client != nil {
		sender = a.client
	}
	a.door = device.NewDoor(device.DoorConfig{
		UnlockDelay: time.Duration(cfg.Door.FixedUnlockDelay) * time.Second,
		BuzzOnSwipe: cfg.Door.BuzzOnSwipe,
		Logger:      a.logger,
	}, a.store, tags, device.NewLogActuator(a.logger), sender, a.restarter)
	if a.client != nil && cfg.DeviceKind == config.KindDoor {
		if err := a.client.RegisterHandler(a.door); err != nil {
			return err
		}
	}

	updater, err := update.New(update.Config{
		URL:               cfg.DFU.URL,
		SkipHostnameCheck: cfg.DFU.SkipCNCheck,
		SkipVersionCheck:  cfg.DFU.SkipVersionCheck,
		Logger:            a.logger,
		Capture:           a.capture,
	}, a.slots, a.restarter)
	if err != nil {
		a.logger.Error("firmware updates disabled", "error", err)
	} else {
		a.updater = updater
	}

	a.adv = discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: a.opts.Interface, Logger: a.logger})
	a.browser = discovery.NewBrowser(a.opts.Interface)
	a.presence = discovery.NewPresence(a.adv, a.deviceInfo, a.logger)
	return nil
}

func (a *app) deviceInfo() discovery.Info {
	return discovery.Info{
		Kind:     a.cfg.DeviceKind,
		MAC:      a.link.StationAddress(),
		Firmware: a.slots.RunningVersion(),
	}
}

// start subscribes every component to link events, then brings the link
// up. Subscribers must be in place before the first Connected event.
func (a *app) start(ctx context.Context) error {
	if a.client != nil {
		if err := a.client.Start(ctx); err != nil {
			return err
		}
	}
	if a.updater != nil {
		if err := a.updater.Init(ctx, a.link); err != nil {
			return err
		}
	}
	if err := a.presence.Start(a.link); err != nil {
		return err
	}
	if err := a.link.Start(ctx); err != nil {
		// The console stays usable so the operator can fix the settings.
		a.logger.Error("link not started", "error", err)
	}
	return nil
}

// stop shuts the components down in reverse order.
func (a *app) stop() {
	a.presence.Stop()
	if a.client != nil {
		a.client.Stop()
	}
	if err := a.link.Stop(); err != nil {
		a.logger.Warn("link stop failed", "error", err)
	}
	if err := a.session.Close(); err != nil {
		a.logger.Debug("session close", "error", err)
	}
	a.door.Close()
	a.close()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// Console operations.

func (a *app) Config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *app) SetConfig(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.cfg
	if err := next.Set(key, value); err != nil {
		return err
	}
	if err := config.Save(a.store, next); err != nil {
		return err
	}
	a.cfg = next
	return nil
}

func (a *app) FactoryReset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := config.Save(a.store, config.Default()); err != nil {
		return err
	}
	a.cfg = config.Default()
	return nil
}

func (a *app) Status() interactive.Status {
	cfg := a.Config()
	st := interactive.Status{
		Kind:           cfg.DeviceKind,
		Firmware:       a.slots.RunningVersion(),
		Slot:           a.slots.Running(),
		LinkState:      a.link.State().String(),
		Station:        a.link.StationAddress().String(),
		SessionState:   a.session.State().String(),
		Advertised:     a.adv.Advertising(),
		LastInvalid:    a.slots.LastInvalidVersion(),
		UpdatesEnabled: a.updater != nil && cfg.DFU.Enabled(),
	}
	if addr := a.link.AssignedAddress(); addr != (netip.Addr{}) {
		st.Address = addr.String()
	}
	if a.client != nil {
		st.URI = a.client.URI()
		st.Authorised = a.client.Authorised()
		st.Failures = a.client.Failures()
		st.Recoveries = a.client.Recoveries()
	}
	st.LockedOut, _ = a.store.LockedOut()
	return st
}

func (a *app) Swipe(card uint32) (device.Decision, error) {
	return a.door.Swipe(card)
}

func (a *app) SetLockout(lockedOut bool) error {
	return a.store.SetLockedOut(lockedOut)
}

func (a *app) Peers(ctx context.Context) ([]discovery.Peer, error) {
	return a.browser.Peers(ctx)
}

func (a *app) Restart(reason string) {
	a.restarter.Restart(reason)
}

var _ interactive.Device = (*app)(nil)

type offlineSender struct{}

func (offlineSender) Send(protocol.Message) error { return errOffline }
