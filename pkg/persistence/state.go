package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the boot state file format.
const StateVersion = 1

// BootState is the bootloader-facing state of the A/B slot pair.
type BootState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Boot is the slot the next start runs from ("a" or "b").
	Boot string `json:"boot"`

	// Previous is the slot that ran before Boot was last switched. A
	// rollback returns to it.
	Previous string `json:"previous,omitempty"`

	// PendingVerify is set when Boot holds a freshly flashed image that
	// has not yet passed diagnostics.
	PendingVerify bool `json:"pending_verify,omitempty"`

	// SlotVersions maps slot name to the image version stored in it.
	SlotVersions map[string]string `json:"slot_versions,omitempty"`

	// LastInvalidVersion is the version of the last image rolled back or
	// rejected by validation. It is never installed again.
	LastInvalidVersion string `json:"last_invalid_version,omitempty"`
}

// BootStateStore persists a BootState to a JSON file.
type BootStateStore struct {
	mu   sync.Mutex
	path string
}

// NewBootStateStore creates a store for the file at path.
func NewBootStateStore(path string) *BootStateStore {
	return &BootStateStore{path: path}
}

// Path returns the backing file path.
func (s *BootStateStore) Path() string {
	return s.path
}

// Save writes state to disk atomically.
func (s *BootStateStore) Save(state *BootState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".boot-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (first boot).
func (s *BootStateStore) Load() (*BootState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &BootState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Clear removes the state file.
func (s *BootStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
