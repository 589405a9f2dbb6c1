package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/looplab/fsm"

	"github.com/accessnode/accessnode-go/pkg/config"
	"github.com/accessnode/accessnode-go/pkg/log"
)

// DefaultMaxRetries is the number of immediate re-attempts after a failed
// association before Disconnected is raised.
const DefaultMaxRetries = 5

// MaxSubscribers bounds the number of registered event callbacks.
const MaxSubscribers = 10

// Link errors.
var (
	ErrAssociation        = errors.New("link: association failed")
	ErrNotConfigured      = errors.New("link: not configured")
	ErrAlreadyRunning     = errors.New("link: already running")
	ErrTooManySubscribers = errors.New("link: too many subscribers")
	ErrUnknownEvent       = errors.New("link: unknown event kind")
)

// EventKind identifies a connectivity event.
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Manager.
type Config struct {
	// MaxRetries is the number of immediate re-attempts after a failed
	// association (default DefaultMaxRetries).
	MaxRetries int

	// Logger for operational logs. If nil, logging is disabled.
	Logger *slog.Logger

	// Capture records state changes. If nil, capture is disabled.
	Capture log.Logger
}

type subscriber struct {
	id   uint64
	kind EventKind
	fn   func()
}

// Manager owns the wireless link.
type Manager struct {
	radio      Radio
	maxRetries int
	logger     *slog.Logger
	capture    log.Logger
	sm         *fsm.FSM

	mu         sync.Mutex
	configured bool
	radioCfg   RadioConfig
	running    bool
	retries    int
	addr       netip.Addr
	subs       []subscriber
	nextSubID  uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// signals carries raised events from the radio loop to the supervisor
	// in order.
	signals chan EventKind
}

// New creates a Manager for radio.
func New(radio Radio, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	m := &Manager{
		radio:      radio,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger.With("component", "link"),
		capture:    log.OrNoop(cfg.Capture),
		signals:    make(chan EventKind, 4),
	}
	m.sm = newStateMachine(fsm.Callbacks{
		"enter_state": m.onEnterState,
	})
	return m
}

// Configure validates and stores the association parameters. Empty
// credentials are a configuration error and are never attempted.
func (m *Manager) Configure(ssid, passphrase, countryCode string, txPower int) error {
	n := config.Net{SSID: ssid, Pass: passphrase, CountryCode: countryCode, TxPower: txPower}
	if err := n.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.radioCfg = RadioConfig{SSID: ssid, Passphrase: passphrase, CountryCode: countryCode, TxPower: txPower}
	m.configured = true
	return nil
}

// Start powers the radio and begins association. The link keeps trying
// until Stop or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !m.configured {
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", config.ErrInvalid, ErrNotConfigured)
	}
	if err := m.radio.Configure(m.radioCfg); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("configure radio: %w", err)
	}
	if err := m.radio.Start(ctx); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("start radio: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.retries = 0
	drain(m.signals)

	m.wg.Add(2)
	go m.radioLoop(runCtx)
	go m.supervise(runCtx)
	m.mu.Unlock()

	m.logger.Info("link starting", "ssid", m.radioCfg.SSID, "station", m.radio.HardwareAddr().String())
	m.associate(runCtx, "start")
	return nil
}

// Stop halts association and powers the radio down. It must not be called
// from a subscriber callback.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	err := m.radio.Stop()

	m.mu.Lock()
	m.retries = 0
	m.addr = netip.Addr{}
	m.mu.Unlock()

	if ferr := fire(context.Background(), m.sm, evStop, "stopped"); ferr != nil {
		m.logger.Debug("state machine rejected stop", "error", ferr)
	}
	m.logger.Info("link stopped")
	return err
}

// Subscribe registers fn for kind. The returned function removes it.
func (m *Manager) Subscribe(kind EventKind, fn func()) (func(), error) {
	if kind != EventConnected && kind != EventDisconnected {
		return nil, ErrUnknownEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.subs) >= MaxSubscribers {
		return nil, ErrTooManySubscribers
	}
	m.nextSubID++
	id := m.nextSubID
	m.subs = append(m.subs, subscriber{id: id, kind: kind, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(id) })
	}, nil
}

func (m *Manager) unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			return
		}
	}
}

// State returns the current link state.
func (m *Manager) State() State {
	return parseState(m.sm.Current())
}

// StationAddress returns the radio's MAC address.
func (m *Manager) StationAddress() net.HardwareAddr {
	return m.radio.HardwareAddr()
}

// AssignedAddress returns the station's address, or the zero Addr while
// the link is down.
func (m *Manager) AssignedAddress() netip.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Retries returns the number of consecutive failed attempts in the
// current round.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// radioLoop consumes driver notifications.
func (m *Manager) radioLoop(ctx context.Context) {
	defer m.wg.Done()
	events := m.radio.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			m.handleRadioEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleRadioEvent(ctx context.Context, ev RadioEvent) {
	switch ev.Kind {
	case RadioLinkDown:
		m.mu.Lock()
		if m.retries < m.maxRetries {
			m.retries++
			attempt := m.retries
			m.addr = netip.Addr{}
			m.mu.Unlock()
			m.logger.Debug("association failed, retrying", "attempt", attempt, "max", m.maxRetries, "error", ev.Err)
			m.associate(ctx, "retry")
			return
		}
		m.retries = 0
		m.addr = netip.Addr{}
		m.mu.Unlock()

		reason := ErrAssociation.Error()
		if ev.Err != nil {
			reason = fmt.Sprintf("%v: %v", ErrAssociation, ev.Err)
		}
		m.logger.Warn("association retries exhausted", "max", m.maxRetries, "error", ev.Err)
		if err := fire(ctx, m.sm, evFail, reason); err != nil {
			m.logger.Debug("state machine rejected fail", "error", err)
		}
		m.raise(ctx, EventDisconnected)

	case RadioAddressAssigned:
		m.mu.Lock()
		m.retries = 0
		m.addr = ev.Addr
		m.mu.Unlock()

		m.logger.Info("address assigned", "addr", ev.Addr.String())
		if err := fire(ctx, m.sm, evAssigned, ev.Addr.String()); err != nil {
			m.logger.Debug("state machine rejected assigned", "error", err)
		}
		m.raise(ctx, EventConnected)

	default:
		m.logger.Debug("ignoring radio event", "kind", ev.Kind.String())
	}
}

// supervise delivers events to subscribers and restarts association after
// a Disconnected event.
func (m *Manager) supervise(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case kind := <-m.signals:
			m.notify(kind)
			if kind != EventDisconnected {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			m.associate(ctx, "reconnect")
		}
	}
}

func (m *Manager) notify(kind EventKind) {
	m.mu.Lock()
	subs := make([]subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		if s.kind == kind {
			subs = append(subs, s)
		}
	}
	m.mu.Unlock()

	m.logger.Debug("link event", "event", kind.String(), "subscribers", len(subs))
	for _, s := range subs {
		s.fn()
	}
}

func (m *Manager) associate(ctx context.Context, reason string) {
	if err := fire(ctx, m.sm, evAssociate, reason); err != nil {
		m.logger.Debug("state machine rejected associate", "error", err)
	}
	m.radio.Associate()
}

func (m *Manager) onEnterState(_ context.Context, e *fsm.Event) {
	reason := ""
	if len(e.Args) > 0 {
		if s, ok := e.Args[0].(string); ok {
			reason = s
		}
	}
	m.logger.Debug("link state", "from", e.Src, "to", e.Dst, "reason", reason)
	m.capture.Log(log.Event{
		Timestamp: timeNow(),
		Direction: log.DirectionLocal,
		Layer:     log.LayerLink,
		Category:  log.CategoryState,
		DeviceID:  hexMAC(m.radio.HardwareAddr()),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityLink,
			OldState: e.Src,
			NewState: e.Dst,
			Reason:   reason,
		},
	})
}

func (m *Manager) raise(ctx context.Context, kind EventKind) {
	select {
	case m.signals <- kind:
	case <-ctx.Done():
	}
}

func drain(ch chan EventKind) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
