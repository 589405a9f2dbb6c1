package update

import (
	"io"

	"github.com/accessnode/accessnode-go/pkg/link"
)

// Slots is the A/B firmware storage the updater writes into.
type Slots interface {
	// RunningVersion returns the version of the executing image.
	RunningVersion() string

	// LastInvalidVersion returns the version of the last image that failed
	// validation or was rolled back, or "" if there is none.
	LastInvalidVersion() string

	// NextUpdateSlot returns the slot that is not currently executing.
	NextUpdateSlot() (string, error)

	// Begin opens slot for writing. Nothing is committed until Finalize.
	Begin(slot string) (SlotWriter, error)

	// SetBoot switches the preferred boot pointer to slot and marks it
	// pending verification.
	SetBoot(slot string) error
}

// SlotWriter receives an image. Exactly one of Finalize or Abort ends it.
type SlotWriter interface {
	io.Writer

	// Finalize validates the written image and makes it bootable.
	Finalize() error

	// Abort discards everything written so far.
	Abort() error
}

// BootVerifier is the startup side of rollback protection.
type BootVerifier interface {
	// PendingVerify reports whether the running image is freshly flashed
	// and has not passed diagnostics yet.
	PendingVerify() bool

	// MarkValid trusts the running image permanently.
	MarkValid() error

	// Rollback points the bootloader back at the previous slot and
	// records the running image as invalid.
	Rollback() error
}

// Restarter restarts the device into whatever the boot pointer selects.
type Restarter interface {
	Restart(reason string)
}

// Subscriber is the part of the link manager the updater listens to.
type Subscriber interface {
	Subscribe(kind link.EventKind, fn func()) (unsubscribe func(), err error)
}
