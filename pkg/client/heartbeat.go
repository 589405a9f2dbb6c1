package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// HeartbeatInterval is the ping period. It sits just under the portal's
// liveness timeout and must only change together with the portal.
const HeartbeatInterval = 9 * time.Second

// Heartbeat sends a ping on a fixed period while running.
type Heartbeat struct {
	interval time.Duration
	send     func() error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	starts   atomic.Uint64
	sent     atomic.Uint64
	failures atomic.Uint64
}

// NewHeartbeat creates a stopped heartbeat that calls send every interval.
func NewHeartbeat(interval time.Duration, send func() error) *Heartbeat {
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	return &Heartbeat{
		interval: interval,
		send:     send,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sending. A running heartbeat is restarted so the next ping
// is a full interval away.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		close(h.stopCh)
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.starts.Add(1)

	go h.loop(ctx, h.stopCh)
}

// Stop stops sending.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

// IsRunning returns true while pings are being sent.
func (h *Heartbeat) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// HeartbeatStats counts heartbeat activity since creation.
type HeartbeatStats struct {
	Starts   uint64
	Sent     uint64
	Failures uint64
}

// Stats returns the heartbeat counters.
func (h *Heartbeat) Stats() HeartbeatStats {
	return HeartbeatStats{
		Starts:   h.starts.Load(),
		Sent:     h.sent.Load(),
		Failures: h.failures.Load(),
	}
}

func (h *Heartbeat) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			// A failed ping is left to the session: a dead connection
			// raises Closed, which stops the heartbeat.
			if err := h.send(); err != nil {
				h.failures.Add(1)
				continue
			}
			h.sent.Add(1)
		}
	}
}
