package update

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessnode/accessnode-go/pkg/config"
	"github.com/accessnode/accessnode-go/pkg/firmware"
)

func buildImage(t *testing.T, version string, size int) []byte {
	t.Helper()
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	img, err := firmware.Build(version, payload)
	require.NoError(t, err)
	return img
}

// imageServer serves image over TLS and counts requests.
func imageServer(t *testing.T, image []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", strconv.Itoa(len(image)))
		_, _ = w.Write(image)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func trustPool(srv *httptest.Server) *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return pool
}

func newTestManager(t *testing.T, cfg Config, slots Slots, r Restarter) *Manager {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	m, err := New(cfg, slots, r)
	require.NoError(t, err)
	return m
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/fw.bin", "not a url", "https://"} {
		_, err := New(Config{URL: raw}, newMemSlots("1.0.0"), &fakeRestarter{})
		assert.ErrorIs(t, err, config.ErrInvalid, raw)
	}
}

func TestRunInstallsNewVersion(t *testing.T) {
	img := buildImage(t, "1.1.0", 10000)
	srv, _ := imageServer(t, img)

	slots := newMemSlots("1.0.0")
	r := &fakeRestarter{}
	m := newTestManager(t, Config{URL: srv.URL + "/fw.bin", RootCAs: trustPool(srv), ChunkSize: 1000}, slots, r)

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, []string{"b"}, slots.begun)
	assert.Equal(t, img, slots.image.Bytes())
	assert.Equal(t, 1, slots.finalized)
	assert.Equal(t, 0, slots.aborted)
	assert.Equal(t, "b", slots.bootSlot())
	assert.Equal(t, 1, r.count())
}

func TestRunSameVersionDeclined(t *testing.T) {
	srv, _ := imageServer(t, buildImage(t, "1.0.0", 100))

	slots := newMemSlots("1.0.0")
	r := &fakeRestarter{}
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv)}, slots, r)

	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrSameVersion)
	assert.True(t, Declined(err))

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, PhaseChecking, uerr.Phase)
	assert.Empty(t, slots.begun, "nothing may be written")
	assert.Equal(t, "a", slots.bootSlot())
	assert.Zero(t, r.count())
}

func TestRunSkipVersionCheck(t *testing.T) {
	srv, _ := imageServer(t, buildImage(t, "1.0.0", 100))

	slots := newMemSlots("1.0.0")
	r := &fakeRestarter{}
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv), SkipVersionCheck: true}, slots, r)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, "b", slots.bootSlot())
	assert.Equal(t, 1, r.count())
}

func TestRunLastInvalidAlwaysDeclined(t *testing.T) {
	srv, _ := imageServer(t, buildImage(t, "1.1.0", 100))

	slots := newMemSlots("1.0.0")
	slots.lastInvalid = "1.1.0"
	r := &fakeRestarter{}
	// Skipping the version check does not allow a known bad image.
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv), SkipVersionCheck: true}, slots, r)

	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidVersion)
	assert.True(t, Declined(err))
	assert.Empty(t, slots.begun)
	assert.Zero(t, r.count())
}

func TestRunTruncatedBodyAborts(t *testing.T) {
	img := buildImage(t, "1.1.0", 20000)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(img)))
		_, _ = w.Write(img[:len(img)/2])
	}))
	defer srv.Close()

	slots := newMemSlots("1.0.0")
	r := &fakeRestarter{}
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv)}, slots, r)

	err := m.Run(context.Background())
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, PhaseWriting, uerr.Phase)
	assert.False(t, Declined(err))
	assert.Equal(t, 1, slots.aborted)
	assert.Zero(t, slots.finalized)
	assert.Equal(t, "a", slots.bootSlot())
	assert.Zero(t, r.count())
}

func TestRunCorruptImageKeepsBootSlot(t *testing.T) {
	img := buildImage(t, "1.1.0", 5000)
	img[len(img)-1] ^= 0xff
	srv, _ := imageServer(t, img)

	slots := newMemSlots("1.0.0")
	r := &fakeRestarter{}
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv)}, slots, r)

	err := m.Run(context.Background())
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, PhaseFinalizing, uerr.Phase)
	var verr *firmware.VerificationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "a", slots.bootSlot())
	assert.Zero(t, r.count())
}

func TestRunHTTPStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	slots := newMemSlots("1.0.0")
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv)}, slots, &fakeRestarter{})

	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrHTTPStatus)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, PhaseConnecting, uerr.Phase)
	assert.Empty(t, slots.begun)
}

func TestRunUntrustedCertificate(t *testing.T) {
	srv, _ := imageServer(t, buildImage(t, "1.1.0", 100))

	slots := newMemSlots("1.0.0")
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: x509.NewCertPool(), SkipHostnameCheck: true}, slots, &fakeRestarter{})

	err := m.Run(context.Background())
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, PhaseConnecting, uerr.Phase)
	assert.Empty(t, slots.begun)
}

func TestRunHostnameCheck(t *testing.T) {
	srv, _ := imageServer(t, buildImage(t, "1.1.0", 100))

	// The test certificate is issued for example.com and the loopback IPs.
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Host = "localhost:" + u.Port()

	t.Run("enforced", func(t *testing.T) {
		slots := newMemSlots("1.0.0")
		m := newTestManager(t, Config{URL: u.String(), RootCAs: trustPool(srv)}, slots, &fakeRestarter{})
		err := m.Run(context.Background())
		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, PhaseConnecting, uerr.Phase)
	})

	t.Run("skipped", func(t *testing.T) {
		slots := newMemSlots("1.0.0")
		r := &fakeRestarter{}
		m := newTestManager(t, Config{URL: u.String(), RootCAs: trustPool(srv), SkipHostnameCheck: true}, slots, r)
		require.NoError(t, m.Run(context.Background()))
		assert.Equal(t, 1, r.count())
	})
}

func TestRunIdleTimeout(t *testing.T) {
	img := buildImage(t, "1.1.0", 4000)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(img)))
		_, _ = w.Write(img[:1000])
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	slots := newMemSlots("1.0.0")
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv), Timeout: 200 * time.Millisecond}, slots, &fakeRestarter{})

	start := time.Now()
	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrIdleTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 1, slots.aborted)
	assert.Equal(t, "a", slots.bootSlot())
}

func TestRunNoSlot(t *testing.T) {
	srv, _ := imageServer(t, buildImage(t, "1.1.0", 100))

	slots := newMemSlots("1.0.0")
	slots.nextErr = errors.New("no spare slot")
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv)}, slots, &fakeRestarter{})

	err := m.Run(context.Background())
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, PhaseChecking, uerr.Phase)
}

func TestInitDisabled(t *testing.T) {
	sub := newFakeSubscriber()
	m := newTestManager(t, Config{}, newMemSlots("1.0.0"), &fakeRestarter{})

	require.NoError(t, m.Init(context.Background(), sub))
	assert.Zero(t, sub.calls)
	require.NoError(t, m.Wait())
}

func TestInitRunsOncePerBoot(t *testing.T) {
	srv, hits := imageServer(t, buildImage(t, "1.0.0", 100))

	sub := newFakeSubscriber()
	m := newTestManager(t, Config{URL: srv.URL, RootCAs: trustPool(srv)}, newMemSlots("1.0.0"), &fakeRestarter{})

	require.NoError(t, m.Init(context.Background(), sub))
	assert.Equal(t, 1, sub.subscribers())

	sub.fire()
	assert.Zero(t, sub.subscribers(), "deregistered after the first Connected")
	sub.fire()

	err := m.Wait()
	assert.ErrorIs(t, err, ErrSameVersion)
	assert.Equal(t, int32(1), hits.Load())
}

func TestInitSubscribeError(t *testing.T) {
	sub := newFakeSubscriber()
	sub.err = errors.New("full")
	m := newTestManager(t, Config{URL: "https://fw.example.com/fw.bin"}, newMemSlots("1.0.0"), &fakeRestarter{})
	assert.Error(t, m.Init(context.Background(), sub))
}

func TestVerifyBoot(t *testing.T) {
	t.Run("not pending", func(t *testing.T) {
		b := &fakeBoot{}
		r := &fakeRestarter{}
		rolled, err := VerifyBoot(b, false, r, nil)
		require.NoError(t, err)
		assert.False(t, rolled)
		assert.False(t, b.rolledBack)
		assert.Zero(t, r.count())
	})

	t.Run("diagnostics passed", func(t *testing.T) {
		b := &fakeBoot{pending: true}
		r := &fakeRestarter{}
		rolled, err := VerifyBoot(b, true, r, nil)
		require.NoError(t, err)
		assert.False(t, rolled)
		assert.True(t, b.marked)
		assert.Zero(t, r.count())
	})

	t.Run("diagnostics failed", func(t *testing.T) {
		b := &fakeBoot{pending: true}
		r := &fakeRestarter{}
		rolled, err := VerifyBoot(b, false, r, nil)
		require.NoError(t, err)
		assert.True(t, rolled)
		assert.True(t, b.rolledBack)
		assert.Equal(t, 1, r.count())
	})

	t.Run("store failure", func(t *testing.T) {
		b := &fakeBoot{pending: true, err: errors.New("disk")}
		r := &fakeRestarter{}
		_, err := VerifyBoot(b, false, r, nil)
		assert.Error(t, err)
		assert.Zero(t, r.count())
	})
}
