package session

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/accessnode/accessnode-go/pkg/log"
)

// Session defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultCloseTimeout     = 3 * time.Second
	DefaultQueueSize        = 16
)

// Session errors.
var (
	// ErrNoResource is returned by Send when the session is not open.
	// Nothing is transmitted or buffered.
	ErrNoResource = errors.New("session: not open")

	// ErrInvalidURI is returned by Open for a non-websocket URI.
	ErrInvalidURI = errors.New("session: invalid uri")
)

// Config configures a Session.
type Config struct {
	// HandshakeTimeout bounds each dial (default 10s).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write (default 10s).
	WriteTimeout time.Duration

	// CloseTimeout is how long Close waits for the peer to answer the
	// close frame (default 3s).
	CloseTimeout time.Duration

	// Backoff controls the redial delays.
	Backoff BackoffConfig

	// TLSConfig for wss URIs. Nil uses the system roots.
	TLSConfig *tls.Config

	// QueueSize is the capacity of the event queue (default 16).
	QueueSize int

	// Logger for operational logs. If nil, logging is disabled.
	Logger *slog.Logger

	// Capture records frames and state changes. If nil, capture is
	// disabled.
	Capture log.Logger
}

// Session is a self-healing websocket session.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	capture log.Logger
	dialer  *websocket.Dialer

	mu      sync.Mutex
	state   State
	uri     string
	conn    *websocket.Conn
	connID  string
	handler func(Event)
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
}

// New creates a closed Session.
func New(cfg Config) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Session{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "session"),
		capture: log.OrNoop(cfg.Capture),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  cfg.TLSConfig,
		},
	}
}

// OnEvent sets the event handler.
func (s *Session) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// URI returns the URI passed to the last Open.
func (s *Session) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// Open starts connecting to uri in the background, replacing any session
// that is already running. Connection failures are reported as
// EventClosed and retried.
func (s *Session) Open(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURI, u.Scheme)
	}

	s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.uri = uri
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Info("session opening", "uri", uri)
	go s.run(ctx, uri, done)
	return nil
}

// Close ends the session and waits for its goroutines. It does not raise
// EventClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.setState(StateClosed, "closed")
	s.logger.Info("session closed")
	return nil
}

// Send writes payload as one text frame. It returns ErrNoResource unless
// the session is open. Concurrent calls are serialized.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	conn, connID, state := s.conn, s.connID, s.state
	s.mu.Unlock()

	if state != StateOpen || conn == nil {
		return ErrNoResource
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	s.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerSession,
		Category:     log.CategoryMessage,
		Frame:        log.NewFrameEvent(payload),
	})
	return nil
}

// run dials, serves and redials until ctx is cancelled.
func (s *Session) run(ctx context.Context, uri string, done chan struct{}) {
	defer close(done)

	events := make(chan Event, s.cfg.QueueSize)
	dispatched := make(chan struct{})
	go s.dispatch(events, dispatched)
	defer func() {
		close(events)
		<-dispatched
	}()

	backoff := NewBackoff(s.cfg.Backoff)
	for {
		s.setState(StateOpening, "dial")
		conn, resp, err := s.dialer.DialContext(ctx, uri, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			s.logger.Warn("session dial failed", "uri", uri, "error", err)
			s.setState(StateClosed, err.Error())
			s.emit(ctx, events, Event{Kind: EventClosed})
		} else {
			backoff.Reset()
			s.serve(ctx, conn, events)
			if ctx.Err() != nil {
				return
			}
		}

		delay := backoff.Next()
		s.logger.Debug("session redial scheduled", "delay", delay, "attempt", backoff.Attempts())
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// serve runs one connection until it fails or ctx is cancelled.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn, events chan<- Event) {
	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	logger := s.logger.With("conn_id", connID)

	conn.SetCloseHandler(func(code int, text string) error {
		logger.Info("close frame received", "code", code, "text", text)
		s.capture.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: connID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerSession,
			Category:     log.CategoryControl,
			RemoteAddr:   remote,
			Close:        &log.CloseEvent{Code: uint16(code), Text: text},
		})
		msg := websocket.FormatCloseMessage(code, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.CloseTimeout))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.connID = connID
	s.mu.Unlock()
	s.setState(StateOpen, remote)
	logger.Info("session open", "remote", remote)

	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.CloseTimeout))
		time.AfterFunc(s.cfg.CloseTimeout, func() { conn.Close() })
	})
	defer stop()

	s.emit(ctx, events, Event{Kind: EventOpened, ConnectionID: connID})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.logReadError(logger, err)
			break
		}
		if mt != websocket.TextMessage {
			logger.Debug("dropping non-text frame", "type", mt, "size", len(data))
			continue
		}
		s.capture.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: connID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerSession,
			Category:     log.CategoryMessage,
			RemoteAddr:   remote,
			Frame:        log.NewFrameEvent(data),
		})
		doc, ok := parseDocument(data)
		if !ok {
			logger.Debug("dropping malformed frame", "size", len(data))
			continue
		}
		s.emit(ctx, events, Event{Kind: EventDataReceived, ConnectionID: connID, Document: doc})
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()

	if ctx.Err() != nil {
		return
	}
	s.setState(StateClosed, "connection lost")
	s.emit(ctx, events, Event{Kind: EventClosed, ConnectionID: connID})
}

func (s *Session) logReadError(logger *slog.Logger, err error) {
	expected := []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}
	var ce *websocket.CloseError
	switch {
	case websocket.IsCloseError(err, expected...):
		errors.As(err, &ce)
		logger.Info("session closed by peer", "code", ce.Code)
	case websocket.IsUnexpectedCloseError(err, expected...):
		logger.Warn("session closed unexpectedly", "error", err)
	default:
		logger.Debug("session read ended", "error", err)
	}
}

// parseDocument accepts only UTF-8 text holding a JSON object.
func parseDocument(data []byte) (map[string]json.RawMessage, bool) {
	if !utf8.Valid(data) {
		return nil, false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}

func (s *Session) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) dispatch(events <-chan Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		s.mu.Lock()
		fn := s.handler
		s.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	}
}

func (s *Session) setState(state State, reason string) {
	s.mu.Lock()
	old := s.state
	s.state = state
	connID := s.connID
	s.mu.Unlock()

	if old == state {
		return
	}
	s.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionLocal,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})
}
