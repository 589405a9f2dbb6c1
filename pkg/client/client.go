package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/accessnode/accessnode-go/pkg/config"
	"github.com/accessnode/accessnode-go/pkg/link"
	"github.com/accessnode/accessnode-go/pkg/log"
	"github.com/accessnode/accessnode-go/pkg/protocol"
	"github.com/accessnode/accessnode-go/pkg/session"
)

const (
	// MaxHandlers bounds the handler registry, built-in handler included.
	MaxHandlers = 10

	// FailureLimit is the number of consecutive session failures that
	// triggers a link restart.
	FailureLimit = 3
)

// Client errors.
var (
	ErrRegistryFull   = errors.New("client: handler registry full")
	ErrAlreadyStarted = errors.New("client: already started")
)

// Link is the part of the link manager the client uses.
type Link interface {
	Subscribe(kind link.EventKind, fn func()) (func(), error)
	Start(ctx context.Context) error
	Stop() error
	StationAddress() net.HardwareAddr
	AssignedAddress() netip.Addr
}

// Transport is the part of the session the client uses.
type Transport interface {
	Open(uri string) error
	Close() error
	Send(payload []byte) error
	OnEvent(fn func(session.Event))
}

// Handler handles inbound messages. HandleMessage returns true when it
// consumed msg, which ends dispatch.
type Handler interface {
	HandleMessage(msg protocol.Message) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg protocol.Message) bool

// HandleMessage calls f(msg).
func (f HandlerFunc) HandleMessage(msg protocol.Message) bool {
	return f(msg)
}

// Config configures a Client.
type Config struct {
	Portal     config.Portal
	DeviceKind config.DeviceKind

	// Logger for operational logs. If nil, logging is disabled.
	Logger *slog.Logger

	// Capture records decoded messages. If nil, capture is disabled.
	Capture log.Logger
}

// Client is the portal protocol client.
type Client struct {
	portal    config.Portal
	kind      config.DeviceKind
	link      Link
	transport Transport
	logger    *slog.Logger
	capture   log.Logger
	heartbeat *Heartbeat

	mu         sync.Mutex
	ctx        context.Context
	started    bool
	handlers   []Handler
	failures   int
	authorised bool
	unsubs     []func()

	recovering atomic.Bool
	recoveries atomic.Uint64
	recoveryWG sync.WaitGroup
}

// New creates a Client. A portal configuration without URL or secret is a
// configuration error.
func New(cfg Config, l Link, t Transport) (*Client, error) {
	if err := cfg.Portal.Validate(); err != nil {
		return nil, err
	}
	if !cfg.DeviceKind.Valid() {
		return nil, fmt.Errorf("%w: unknown device kind %q", config.ErrInvalid, cfg.DeviceKind)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	c := &Client{
		portal:    cfg.Portal,
		kind:      cfg.DeviceKind,
		link:      l,
		transport: t,
		logger:    cfg.Logger.With("component", "client"),
		capture:   log.OrNoop(cfg.Capture),
		ctx:       context.Background(),
	}
	c.heartbeat = NewHeartbeat(HeartbeatInterval, func() error {
		return c.Send(protocol.Ping{})
	})
	c.handlers = append(c.handlers, HandlerFunc(c.handleBuiltin))
	t.OnEvent(c.handleEvent)
	return c, nil
}

// RegisterHandler appends h to the dispatch order.
func (c *Client) RegisterHandler(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handlers) >= MaxHandlers {
		return ErrRegistryFull
	}
	c.handlers = append(c.handlers, h)
	return nil
}

// Start subscribes to link events. The session is opened on every
// Connected event and closed on Disconnected. ctx bounds the heartbeat and
// link restarts.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	unsubConn, err := c.link.Subscribe(link.EventConnected, c.onLinkConnected)
	if err != nil {
		return fmt.Errorf("client: subscribe: %w", err)
	}
	unsubDisc, err := c.link.Subscribe(link.EventDisconnected, c.onLinkDisconnected)
	if err != nil {
		unsubConn()
		return fmt.Errorf("client: subscribe: %w", err)
	}

	c.ctx = ctx
	c.started = true
	c.unsubs = []func(){unsubConn, unsubDisc}
	return nil
}

// Stop unsubscribes from the link, stops the heartbeat and closes the
// session. It waits for a running recovery to finish.
func (c *Client) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.started = false
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	c.recoveryWG.Wait()
	c.heartbeat.Stop()
	c.transport.Close()
}

// Send encodes msg and writes it to the session.
func (c *Client) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.transport.Send(data); err != nil {
		return err
	}
	c.captureMessage(log.DirectionOut, msg, false)
	return nil
}

// URI returns the session URI for this device.
func (c *Client) URI() string {
	return protocol.BuildURI(c.portal.WSURL, c.kind.PathSegment(), c.link.StationAddress())
}

// Authorised reports whether the portal accepted the last authentication.
func (c *Client) Authorised() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorised
}

// Failures returns the current consecutive failure count.
func (c *Client) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Recoveries returns the number of link restarts performed.
func (c *Client) Recoveries() uint64 {
	return c.recoveries.Load()
}

// Heartbeat returns the heartbeat.
func (c *Client) Heartbeat() *Heartbeat {
	return c.heartbeat
}

func (c *Client) onLinkConnected() {
	uri := c.URI()
	if err := c.transport.Open(uri); err != nil {
		c.logger.Error("failed to open session", "uri", uri, "error", err)
	}
}

func (c *Client) onLinkDisconnected() {
	c.heartbeat.Stop()
	c.setAuthorised(false)
	c.transport.Close()
}

// handleEvent runs on the session's dispatch goroutine.
func (c *Client) handleEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventOpened:
		c.mu.Lock()
		c.failures = 0
		c.mu.Unlock()

		c.logger.Info("session opened, authenticating", "conn_id", ev.ConnectionID)
		if err := c.Send(protocol.Authenticate{SecretKey: c.portal.APISecret}); err != nil {
			c.logger.Warn("failed to send authenticate", "error", err)
		}

	case session.EventClosed:
		c.heartbeat.Stop()
		c.setAuthorised(false)

		c.mu.Lock()
		c.failures++
		n := c.failures
		trip := n >= FailureLimit
		if trip {
			c.failures = 0
		}
		c.mu.Unlock()

		c.logger.Warn("session closed", "consecutive_failures", n)
		if trip {
			c.startRecovery()
		}

	case session.EventDataReceived:
		msg := protocol.Decode(ev.Document)
		if inv, ok := msg.(protocol.Invalid); ok {
			c.logger.Warn("dropping invalid message", "command", inv.Command, "error", inv.Err)
			c.captureError(inv)
			return
		}
		handled := c.dispatch(msg)
		c.captureMessage(log.DirectionIn, msg, handled)
		if !handled {
			c.logger.Debug("unhandled message", "kind", msg.Kind().String())
		}
	}
}

// dispatch offers msg to each handler in registration order until one
// accepts it.
func (c *Client) dispatch(msg protocol.Message) bool {
	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		if h.HandleMessage(msg) {
			return true
		}
	}
	return false
}

func (c *Client) handleBuiltin(msg protocol.Message) bool {
	switch m := msg.(type) {
	case protocol.Ping:
		if err := c.Send(protocol.Pong{}); err != nil {
			c.logger.Warn("failed to send pong", "error", err)
		}
		return true

	case protocol.Pong:
		return true

	case protocol.Authorized:
		c.setAuthorised(m.Authorised)
		if !m.Authorised {
			c.logger.Warn("portal refused authentication")
			return true
		}

		addr := c.link.AssignedAddress()
		c.logger.Info("authorised by portal", "addr", addr.String())
		if err := c.Send(protocol.IPAddress{Addr: addr}); err != nil {
			c.logger.Warn("failed to send ip address", "error", err)
		}
		c.mu.Lock()
		ctx := c.ctx
		c.mu.Unlock()
		c.heartbeat.Start(ctx)
		return true
	}
	return false
}

// startRecovery restarts the link in the background. At most one
// recovery runs at a time.
func (c *Client) startRecovery() {
	if !c.recovering.CompareAndSwap(false, true) {
		c.logger.Debug("recovery already in progress")
		return
	}

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	c.recoveryWG.Add(1)
	go func() {
		defer c.recoveryWG.Done()
		defer c.recovering.Store(false)

		c.logger.Warn("too many session failures, restarting link", "limit", FailureLimit)
		c.captureState("RECOVERING", fmt.Sprintf("%d consecutive session failures", FailureLimit))

		c.heartbeat.Stop()
		if err := c.transport.Close(); err != nil {
			c.logger.Warn("session close failed", "error", err)
		}
		if err := c.link.Stop(); err != nil {
			c.logger.Warn("link stop failed", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		if err := c.link.Start(ctx); err != nil {
			c.logger.Error("link restart failed", "error", err)
		}
		c.recoveries.Add(1)
		c.captureState("RECOVERED", "")
	}()
}

func (c *Client) setAuthorised(v bool) {
	c.mu.Lock()
	old := c.authorised
	c.authorised = v
	c.mu.Unlock()
	if old != v {
		state := "UNAUTHORISED"
		if v {
			state = "AUTHORISED"
		}
		c.captureState(state, "")
	}
}

func (c *Client) captureMessage(dir log.Direction, msg protocol.Message, handled bool) {
	if _, ok := msg.(protocol.Authenticate); ok {
		msg = protocol.Authenticate{SecretKey: "********"}
	}
	c.capture.Log(log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryMessage,
		DeviceID:  hex.EncodeToString(c.link.StationAddress()),
		Message: &log.MessageEvent{
			Command: msg.Kind().Command(),
			Payload: msg,
			Handled: handled,
		},
	})
}

func (c *Client) captureError(inv protocol.Invalid) {
	c.capture.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryError,
		DeviceID:  hex.EncodeToString(c.link.StationAddress()),
		Error: &log.ErrorEventData{
			Layer:   log.LayerProtocol,
			Message: inv.Error(),
			Context: "decode",
		},
	})
}

func (c *Client) captureState(state, reason string) {
	c.capture.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionLocal,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryState,
		DeviceID:  hex.EncodeToString(c.link.StationAddress()),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityClient,
			NewState: state,
			Reason:   reason,
		},
	})
}

var (
	_ Link      = (*link.Manager)(nil)
	_ Transport = (*session.Session)(nil)
)
