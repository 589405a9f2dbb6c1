// Package nvstate is the device's non-volatile key/value store.
//
// Values are opaque blobs kept in a single SQLite table (WAL mode). The
// daemon stores three keys: the configuration blob, the lockout flag and
// the 16-byte hash of the authorised tag list.
package nvstate

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Well-known keys.
const (
	KeyConfig    = "config"
	KeyLockedOut = "locked_out"
	KeyTagHash   = "tag_hash"
)

// TagHashLen is the length of the stored tag list hash.
const TagHashLen = 16

var (
	// ErrNotFound is returned by Get when the key has never been set.
	ErrNotFound = errors.New("nvstate: key not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("nvstate: store closed")
)

// StorageError reports a failed blob read or write.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("nvstate: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store is a SQLite-backed blob store. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open opens (or creates) the store at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("nvstate: open %s: %w", path, err)
	}
	// One connection: serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("nvstate: ping: %w", err)
	}
	if _, err := db.Exec(ddlBlobs); err != nil {
		db.Close()
		return nil, fmt.Errorf("nvstate: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

const ddlBlobs = `
CREATE TABLE IF NOT EXISTS blobs (
    key        TEXT    PRIMARY KEY,
    value      BLOB    NOT NULL,
    updated_at INTEGER NOT NULL -- Unix milliseconds
);
`

// Init seeds the lockout flag and tag hash when they are absent, so later
// reads never see ErrNotFound for them.
func (s *Store) Init() error {
	if _, err := s.Get(KeyLockedOut); errors.Is(err, ErrNotFound) {
		if err := s.SetLockedOut(false); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if _, err := s.Get(KeyTagHash); errors.Is(err, ErrNotFound) {
		if err := s.SetTagHash(make([]byte, TagHashLen)); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return nil
}

// Get returns the blob stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &StorageError{Op: "get", Key: key, Err: ErrClosed}
	}

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM blobs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	return value, nil
}

// Set stores value under key, replacing any previous blob.
func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &StorageError{Op: "set", Key: key, Err: ErrClosed}
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.Exec(`
		INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &StorageError{Op: "delete", Key: key, Err: ErrClosed}
	}
	if _, err := s.db.Exec(`DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// LockedOut reports whether the portal has locked this device out.
// A missing flag reads as false.
func (s *Store) LockedOut() (bool, error) {
	v, err := s.Get(KeyLockedOut)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(v) > 0 && v[0] != 0, nil
}

// SetLockedOut persists the lockout flag.
func (s *Store) SetLockedOut(lockedOut bool) error {
	v := []byte{0}
	if lockedOut {
		v[0] = 1
	}
	return s.Set(KeyLockedOut, v)
}

// TagHash returns the hash of the tag list last written by a sync.
func (s *Store) TagHash() ([]byte, error) {
	v, err := s.Get(KeyTagHash)
	if errors.Is(err, ErrNotFound) {
		return make([]byte, TagHashLen), nil
	}
	return v, err
}

// SetTagHash persists the tag list hash. It must be TagHashLen bytes.
func (s *Store) SetTagHash(hash []byte) error {
	if len(hash) != TagHashLen {
		return &StorageError{Op: "set", Key: KeyTagHash,
			Err: fmt.Errorf("hash length %d, want %d", len(hash), TagHashLen)}
	}
	return s.Set(KeyTagHash, bytes.Clone(hash))
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
