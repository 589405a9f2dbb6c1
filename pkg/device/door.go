package device

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/accessnode/accessnode-go/pkg/client"
	"github.com/accessnode/accessnode-go/pkg/protocol"
)

// DefaultUnlockDelay is how long the lock stays released after an unlock.
const DefaultUnlockDelay = 5 * time.Second

// Decision is the outcome of a card swipe.
type Decision uint8

const (
	Granted Decision = iota + 1
	Denied
	LockedOut
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Granted:
		return "GRANTED"
	case Denied:
		return "DENIED"
	case LockedOut:
		return "LOCKED_OUT"
	default:
		return "UNKNOWN"
	}
}

// State is the persistent device state the door reads and writes.
type State interface {
	HashStore
	LockedOut() (bool, error)
	SetLockedOut(lockedOut bool) error
}

// Sender delivers messages to the portal.
type Sender interface {
	Send(msg protocol.Message) error
}

// Restarter restarts the device.
type Restarter interface {
	Restart(reason string)
}

// DoorConfig configures a Door.
type DoorConfig struct {
	// UnlockDelay is how long an unlock lasts (default DefaultUnlockDelay).
	UnlockDelay time.Duration

	// BuzzOnSwipe sounds the buzzer on every swipe.
	BuzzOnSwipe bool

	// Logger for operational logs. If nil, logging is disabled.
	Logger *slog.Logger
}

// Door is the door device handler.
type Door struct {
	cfg       DoorConfig
	state     State
	tags      *TagList
	actuator  Actuator
	sender    Sender
	restarter Restarter
	logger    *slog.Logger

	mu     sync.Mutex
	relock *time.Timer
	closed bool
}

// NewDoor creates a Door.
func NewDoor(cfg DoorConfig, state State, tags *TagList, actuator Actuator, sender Sender, restarter Restarter) *Door {
	if cfg.UnlockDelay <= 0 {
		cfg.UnlockDelay = DefaultUnlockDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Door{
		cfg:       cfg,
		state:     state,
		tags:      tags,
		actuator:  actuator,
		sender:    sender,
		restarter: restarter,
		logger:    cfg.Logger.With("component", "door"),
	}
}

// HandleMessage handles the portal commands addressed to a door.
func (d *Door) HandleMessage(msg protocol.Message) bool {
	switch m := msg.(type) {
	case protocol.UpdateLockout:
		if err := d.state.SetLockedOut(m.LockedOut); err != nil {
			d.logger.Error("persist lockout failed", "error", err)
			return true
		}
		d.logger.Info("lockout updated", "locked_out", m.LockedOut)
		return true

	case protocol.Sync:
		changed, err := d.tags.Sync(d.state, m.Hash, m.Tags)
		if err != nil {
			d.logger.Error("tag sync failed", "error", err)
			return true
		}
		if changed {
			d.logger.Info("tag list replaced", "tags", d.tags.Len())
		} else {
			d.logger.Debug("tag list unchanged")
		}
		return true

	case protocol.Unlock, protocol.Bump:
		d.Unlock()
		return true

	case protocol.Lock:
		d.Lock()
		return true

	case protocol.Reboot:
		d.Close()
		d.restarter.Restart("portal requested reboot")
		return true

	default:
		return false
	}
}

// Unlock releases the lock and arms the relock timer.
func (d *Door) Unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.actuator.Unlock()
	if d.relock != nil {
		d.relock.Stop()
	}
	d.relock = time.AfterFunc(d.cfg.UnlockDelay, d.Lock)
}

// Lock engages the lock.
func (d *Door) Lock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.relock != nil {
		d.relock.Stop()
		d.relock = nil
	}
	d.actuator.Lock()
}

// Swipe decides on a card scan, reports the result to the portal and
// drives the lock.
func (d *Door) Swipe(card uint32) (Decision, error) {
	if d.cfg.BuzzOnSwipe {
		d.actuator.Buzz()
	}

	decision := Granted
	if !d.tags.Contains(strconv.FormatUint(uint64(card), 10)) {
		decision = Denied
	} else {
		locked, err := d.state.LockedOut()
		if err != nil {
			return 0, fmt.Errorf("device: read lockout: %w", err)
		}
		if locked {
			decision = LockedOut
		}
	}

	var msg protocol.Message
	switch decision {
	case Denied:
		msg = protocol.AccessDenied{CardID: card}
	case LockedOut:
		msg = protocol.AccessLockedOut{CardID: card}
	default:
		msg = protocol.AccessGranted{CardID: card}
	}
	d.logger.Info("card swiped", "card", card, "decision", decision.String())

	// The local decision stands even when the portal is unreachable.
	sendErr := d.sender.Send(msg)
	if sendErr != nil {
		d.logger.Warn("access log not delivered", "card", card, "error", sendErr)
	}

	if decision == Granted {
		d.Unlock()
	} else {
		d.actuator.Alert()
	}
	return decision, sendErr
}

// Close stops the relock timer and engages the lock.
func (d *Door) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.Lock()
}

var _ client.Handler = (*Door)(nil)
