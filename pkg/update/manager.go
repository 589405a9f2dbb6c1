package update

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/accessnode/accessnode-go/pkg/config"
	"github.com/accessnode/accessnode-go/pkg/firmware"
	"github.com/accessnode/accessnode-go/pkg/link"
	"github.com/accessnode/accessnode-go/pkg/log"
)

// Download defaults.
const (
	DefaultTimeout   = 5 * time.Second
	DefaultChunkSize = 4096
)

// Config configures a Manager.
type Config struct {
	// URL of the firmware image. Empty disables updates.
	URL string

	// SkipHostnameCheck verifies the server chain but not its name.
	SkipHostnameCheck bool

	// SkipVersionCheck allows re-installing the running version.
	SkipVersionCheck bool

	// Timeout bounds connecting, waiting for the response and each
	// silence while reading the body (default 5s).
	Timeout time.Duration

	// ChunkSize is the read size while streaming (default 4096).
	ChunkSize int

	// RootCAs verifies the server. Nil uses the system roots.
	RootCAs *x509.CertPool

	// Logger for operational logs. If nil, logging is disabled.
	Logger *slog.Logger

	// Capture records update phases. If nil, capture is disabled.
	Capture log.Logger
}

// Enabled reports whether an update URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// Manager runs the once-per-boot update check.
type Manager struct {
	cfg       Config
	slots     Slots
	restarter Restarter
	client    *http.Client
	logger    *slog.Logger
	capture   log.Logger

	mu    sync.Mutex
	unsub func()
	fired bool

	once    sync.Once
	wg      sync.WaitGroup
	lastErr atomic.Pointer[error]
}

// New creates a Manager. A malformed URL is a configuration error.
func New(cfg Config, slots Slots, restarter Restarter) (*Manager, error) {
	if cfg.Enabled() {
		u, err := url.Parse(cfg.URL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, fmt.Errorf("%w: update url %q", config.ErrInvalid, cfg.URL)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Manager{
		cfg:       cfg,
		slots:     slots,
		restarter: restarter,
		client:    newHTTPClient(cfg),
		logger:    cfg.Logger.With("component", "update"),
		capture:   log.OrNoop(cfg.Capture),
	}, nil
}

func newHTTPClient(cfg Config) *http.Client {
	tlsCfg := &tls.Config{
		RootCAs:    cfg.RootCAs,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.SkipHostnameCheck {
		// Chain verification moves into VerifyConnection, which checks
		// everything except the server name.
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyChain(cs, cfg.RootCAs)
		}
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSClientConfig:       tlsCfg,
			TLSHandshakeTimeout:   cfg.Timeout,
			ResponseHeaderTimeout: cfg.Timeout,
			DisableKeepAlives:     true,
		},
	}
}

func verifyChain(cs tls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("server presented no certificate")
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := cs.PeerCertificates[0].Verify(opts)
	return err
}

// Init arms the update check for the first Connected event. With no URL
// configured it does nothing.
func (m *Manager) Init(ctx context.Context, sub Subscriber) error {
	if !m.cfg.Enabled() {
		m.logger.Info("firmware updates disabled")
		return nil
	}

	unsub, err := sub.Subscribe(link.EventConnected, func() { m.trigger(ctx) })
	if err != nil {
		return fmt.Errorf("update: subscribe: %w", err)
	}

	m.mu.Lock()
	if m.fired {
		m.mu.Unlock()
		unsub()
		return nil
	}
	m.unsub = unsub
	m.mu.Unlock()

	m.logger.Info("update check armed", "url", m.cfg.URL, "running", m.slots.RunningVersion())
	return nil
}

// trigger runs on the link supervisor; the download gets its own goroutine.
func (m *Manager) trigger(ctx context.Context) {
	m.mu.Lock()
	m.fired = true
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	m.once.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			err := m.Run(ctx)
			m.lastErr.Store(&err)
			switch {
			case err == nil:
			case Declined(err):
				m.logger.Info("no update installed", "reason", err)
			default:
				m.logger.Warn("update failed, keeping current firmware", "error", err)
			}
		}()
	})
}

// Wait blocks until a triggered update task has ended and returns its
// result.
func (m *Manager) Wait() error {
	m.wg.Wait()
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Run performs one update attempt. On success it restarts the device
// through the Restarter and returns nil.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.progress(PhaseConnecting, "", "", 0)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		return &Error{Phase: PhaseConnecting, Err: err}
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return &Error{Phase: PhaseConnecting, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Phase: PhaseConnecting, Err: fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)}
	}

	body := newIdleReader(resp.Body, m.cfg.Timeout, cancel)
	defer body.stop()

	slot, err := m.slots.NextUpdateSlot()
	if err != nil {
		return &Error{Phase: PhaseChecking, Err: err}
	}

	head := make([]byte, firmware.HeaderSize)
	if _, err := io.ReadFull(body, head); err != nil {
		return &Error{Phase: PhaseChecking, Err: fmt.Errorf("read header: %w", err)}
	}
	hdr, err := firmware.ParseHeader(head)
	if err != nil {
		return &Error{Phase: PhaseChecking, Err: err}
	}

	running := m.slots.RunningVersion()
	m.logger.Info("update available", "version", hdr.Version, "running", running,
		"size", hdr.ImageSize(), "slot", slot)
	m.progress(PhaseChecking, hdr.Version, slot, 0)

	if invalid := m.slots.LastInvalidVersion(); invalid != "" && hdr.Version == invalid {
		return &Error{Phase: PhaseChecking, Err: fmt.Errorf("%w: %s", ErrInvalidVersion, hdr.Version)}
	}
	if !m.cfg.SkipVersionCheck && hdr.Version == running {
		return &Error{Phase: PhaseChecking, Err: fmt.Errorf("%w: %s", ErrSameVersion, hdr.Version)}
	}

	w, err := m.slots.Begin(slot)
	if err != nil {
		return &Error{Phase: PhaseWriting, Err: err}
	}
	m.progress(PhaseWriting, hdr.Version, slot, 0)

	written, err := m.stream(w, head, body)
	if err != nil {
		if aerr := w.Abort(); aerr != nil {
			m.logger.Warn("slot abort failed", "slot", slot, "error", aerr)
		}
		return &Error{Phase: PhaseWriting, Err: err}
	}

	m.progress(PhaseFinalizing, hdr.Version, slot, written)
	if err := w.Finalize(); err != nil {
		return &Error{Phase: PhaseFinalizing, Err: err}
	}
	if err := m.slots.SetBoot(slot); err != nil {
		return &Error{Phase: PhaseFinalizing, Err: err}
	}

	m.progress(PhaseComplete, hdr.Version, slot, written)
	m.logger.Info("update installed", "version", hdr.Version, "slot", slot, "bytes", written)
	m.restarter.Restart("firmware " + hdr.Version + " installed")
	return nil
}

// stream writes the buffered header, then the rest of the body in chunks.
func (m *Manager) stream(w io.Writer, head []byte, body io.Reader) (int64, error) {
	if _, err := w.Write(head); err != nil {
		return 0, err
	}
	written := int64(len(head))

	buf := make([]byte, m.cfg.ChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (m *Manager) progress(phase Phase, version, slot string, written int64) {
	m.capture.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerUpdate,
		Category:   log.CategoryProgress,
		RemoteAddr: m.cfg.URL,
		Progress: &log.ProgressEvent{
			Phase:        string(phase),
			Version:      version,
			BytesWritten: written,
			Slot:         slot,
		},
	})
}

// idleReader cancels the download when no data arrives for timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	if err != nil && err != io.EOF && ir.fired.Load() {
		err = ErrIdleTimeout
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}
