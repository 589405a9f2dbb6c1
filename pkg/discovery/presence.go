package discovery

import (
	"log/slog"
	"sync"

	"github.com/accessnode/accessnode-go/pkg/link"
)

// Subscriber delivers link events.
type Subscriber interface {
	Subscribe(kind link.EventKind, fn func()) (func(), error)
}

// Presence keeps the advertisement in step with the link: it advertises
// on Connected and withdraws on Disconnected.
type Presence struct {
	adv    *Advertiser
	info   func() Info
	logger *slog.Logger

	mu     sync.Mutex
	unsubs []func()
}

// NewPresence creates a Presence. info is called on every Connected event
// so the record reflects the current firmware version.
func NewPresence(adv *Advertiser, info func() Info, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Presence{adv: adv, info: info, logger: logger.With("component", "presence")}
}

// Start subscribes to link events.
func (p *Presence) Start(sub Subscriber) error {
	onUp, err := sub.Subscribe(link.EventConnected, p.onConnected)
	if err != nil {
		return err
	}
	onDown, err := sub.Subscribe(link.EventDisconnected, p.adv.Stop)
	if err != nil {
		onUp()
		return err
	}

	p.mu.Lock()
	p.unsubs = append(p.unsubs, onUp, onDown)
	p.mu.Unlock()
	return nil
}

// Stop unsubscribes and withdraws the advertisement.
func (p *Presence) Stop() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	p.adv.Stop()
}

func (p *Presence) onConnected() {
	if err := p.adv.Advertise(p.info()); err != nil {
		// Presence is best effort; the device works without it.
		p.logger.Warn("mDNS advertisement failed", "error", err)
	}
}

// StaticInfo returns an info function for fixed values.
func StaticInfo(info Info) func() Info {
	return func() Info { return info }
}
