// Package slot stores firmware images in a pair of A/B slot files and keeps
// the boot pointer in a small JSON state file next to them.
//
// A device process runs from whichever slot the boot pointer selected when
// it started. New images are always written to the other slot; the boot
// pointer only moves after the image has been fully written and verified.
package slot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/accessnode/accessnode-go/pkg/firmware"
	"github.com/accessnode/accessnode-go/pkg/persistence"
	"github.com/accessnode/accessnode-go/pkg/update"
)

// Slot names.
const (
	SlotA = "a"
	SlotB = "b"
)

// StateFile is the boot state file name inside the slot directory.
const StateFile = "boot.json"

// Slot errors.
var (
	ErrUnknownSlot  = errors.New("slot: unknown slot")
	ErrSlotActive   = errors.New("slot: slot is running")
	ErrBusy         = errors.New("slot: another image is being written")
	ErrWriterClosed = errors.New("slot: writer already finished")
)

// FileSlots is a file-backed A/B slot pair.
type FileSlots struct {
	mu      sync.Mutex
	dir     string
	build   string
	running string
	writing bool
	store   *persistence.BootStateStore
	state   *persistence.BootState
	logger  *slog.Logger
}

// Open loads (or creates) the slot state in dir. buildVersion is the
// version of the executing binary and is recorded against the running slot.
func Open(dir, buildVersion string, logger *slog.Logger) (*FileSlots, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("slot: create dir: %w", err)
	}

	store := persistence.NewBootStateStore(filepath.Join(dir, StateFile))
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("slot: load state: %w", err)
	}
	if state == nil {
		state = &persistence.BootState{Boot: SlotA}
	}
	if !validSlot(state.Boot) {
		logger.Warn("boot state names unknown slot, using a", "boot", state.Boot)
		state.Boot = SlotA
	}
	if state.SlotVersions == nil {
		state.SlotVersions = make(map[string]string)
	}
	if buildVersion != "" {
		state.SlotVersions[state.Boot] = buildVersion
	}
	if err := store.Save(state); err != nil {
		return nil, fmt.Errorf("slot: save state: %w", err)
	}

	s := &FileSlots{
		dir:     dir,
		build:   buildVersion,
		running: state.Boot,
		store:   store,
		state:   state,
		logger:  logger.With("component", "slot"),
	}
	s.logger.Info("slots opened", "running", s.running, "version", s.RunningVersion(),
		"pending_verify", state.PendingVerify)
	return s, nil
}

// Path returns the image file of slot.
func (s *FileSlots) Path(slot string) string {
	return filepath.Join(s.dir, "slot-"+slot+".img")
}

// Running returns the slot this process was started from.
func (s *FileSlots) Running() string {
	return s.running
}

// Boot returns the slot the next start will run from.
func (s *FileSlots) Boot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Boot
}

// SlotVersion returns the image version stored in slot.
func (s *FileSlots) SlotVersion(slot string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SlotVersions[slot]
}

// RunningVersion returns the version of the executing image.
func (s *FileSlots) RunningVersion() string {
	if s.build != "" {
		return s.build
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SlotVersions[s.running]
}

// LastInvalidVersion returns the last rejected or rolled back version.
func (s *FileSlots) LastInvalidVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastInvalidVersion
}

// NextUpdateSlot returns the slot that is not running.
func (s *FileSlots) NextUpdateSlot() (string, error) {
	return other(s.running), nil
}

// Begin opens slot for writing through a partial file. The slot file
// itself is only replaced by a successful Finalize.
func (s *FileSlots) Begin(slot string) (update.SlotWriter, error) {
	if !validSlot(slot) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	if slot == s.running {
		return nil, ErrSlotActive
	}

	s.mu.Lock()
	if s.writing {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.writing = true
	s.mu.Unlock()

	f, err := os.OpenFile(s.Path(slot)+".partial", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("slot: open %s: %w", slot, err)
	}
	return &writer{s: s, slot: slot, f: f, v: firmware.NewVerifier()}, nil
}

// SetBoot points the next start at slot and marks it pending verification.
func (s *FileSlots) SetBoot(slot string) error {
	if !validSlot(slot) {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Previous = s.running
	s.state.Boot = slot
	s.state.PendingVerify = slot != s.running
	if err := s.store.Save(s.state); err != nil {
		return fmt.Errorf("slot: save state: %w", err)
	}
	s.logger.Info("boot slot switched", "boot", slot, "previous", s.running)
	return nil
}

// PendingVerify reports whether the running image still awaits diagnostics.
func (s *FileSlots) PendingVerify() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PendingVerify && s.state.Boot == s.running
}

// MarkValid clears the pending verification flag.
func (s *FileSlots) MarkValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.PendingVerify {
		return nil
	}
	s.state.PendingVerify = false
	if err := s.store.Save(s.state); err != nil {
		return fmt.Errorf("slot: save state: %w", err)
	}
	s.logger.Info("running image marked valid", "slot", s.running)
	return nil
}

// Rollback records the running image as invalid and points the next start
// at the previous slot.
func (s *FileSlots) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.state.Previous
	if !validSlot(target) || target == s.running {
		target = other(s.running)
	}
	s.state.LastInvalidVersion = s.state.SlotVersions[s.running]
	s.state.Boot = target
	s.state.Previous = s.running
	s.state.PendingVerify = false
	if err := s.store.Save(s.state); err != nil {
		return fmt.Errorf("slot: save state: %w", err)
	}
	s.logger.Warn("rolled back", "boot", target, "invalid_version", s.state.LastInvalidVersion)
	return nil
}

func (s *FileSlots) release() {
	s.mu.Lock()
	s.writing = false
	s.mu.Unlock()
}

func (s *FileSlots) committed(slot, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SlotVersions[slot] = version
	return s.store.Save(s.state)
}

func (s *FileSlots) rejected(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastInvalidVersion = version
	if err := s.store.Save(s.state); err != nil {
		s.logger.Error("failed to record invalid version", "version", version, "error", err)
	}
}

func validSlot(slot string) bool {
	return slot == SlotA || slot == SlotB
}

func other(slot string) string {
	if slot == SlotA {
		return SlotB
	}
	return SlotA
}

var (
	_ update.Slots        = (*FileSlots)(nil)
	_ update.BootVerifier = (*FileSlots)(nil)
)
