package device

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/accessnode/accessnode-go/pkg/nvstate"
)

// ErrInvalidHash is returned for a sync hash that is not 32 hex digits.
var ErrInvalidHash = errors.New("device: invalid tag list hash")

// HashStore persists the hash of the current tag list.
type HashStore interface {
	TagHash() ([]byte, error)
	SetTagHash(hash []byte) error
}

// TagList is the cached set of authorised cards, one card number per line
// in a file.
type TagList struct {
	path string

	mu   sync.RWMutex
	tags map[string]struct{}
}

// LoadTagList reads the list at path. A missing file is an empty list.
func LoadTagList(path string) (*TagList, error) {
	l := &TagList{path: path, tags: make(map[string]struct{})}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("device: open tag list: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if tag := strings.TrimSpace(sc.Text()); tag != "" {
			l.tags[tag] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("device: read tag list: %w", err)
	}
	return l, nil
}

// Contains reports whether card is authorised.
func (l *TagList) Contains(card string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tags[card]
	return ok
}

// Len returns the number of cards.
func (l *TagList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tags)
}

// Path returns the list file.
func (l *TagList) Path() string {
	return l.path
}

// Sync replaces the list with tags unless hash matches the stored hash.
// It reports whether the list was rewritten.
func (l *TagList) Sync(store HashStore, hash string, tags []string) (bool, error) {
	want, err := hex.DecodeString(hash)
	if err != nil || len(want) != nvstate.TagHashLen {
		return false, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}

	have, err := store.TagHash()
	if err != nil {
		return false, err
	}
	if bytes.Equal(have, want) {
		return false, nil
	}

	next := make(map[string]struct{}, len(tags))
	var buf bytes.Buffer
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := next[tag]; dup {
			continue
		}
		next[tag] = struct{}{}
		buf.WriteString(tag)
		buf.WriteByte('\n')
	}

	if err := writeFileAtomic(l.path, buf.Bytes()); err != nil {
		return false, err
	}

	l.mu.Lock()
	l.tags = next
	l.mu.Unlock()

	if err := store.SetTagHash(want); err != nil {
		return true, err
	}
	return true, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("device: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tags-*")
	if err != nil {
		return fmt.Errorf("device: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("device: write tag list: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("device: sync tag list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("device: close tag list: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("device: replace tag list: %w", err)
	}
	return nil
}
