package device

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessnode/accessnode-go/pkg/nvstate"
)

const hashA = "00112233445566778899aabbccddeeff"

func openState(t *testing.T) *nvstate.Store {
	t.Helper()
	s, err := nvstate.Open(filepath.Join(t.TempDir(), "nvstate.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadTagListMissing(t *testing.T) {
	l, err := LoadTagList(filepath.Join(t.TempDir(), "tags.txt"))
	require.NoError(t, err)
	assert.Zero(t, l.Len())
	assert.False(t, l.Contains("1"))
}

func TestTagListSync(t *testing.T) {
	state := openState(t)
	path := filepath.Join(t.TempDir(), "tags.txt")
	l, err := LoadTagList(path)
	require.NoError(t, err)

	changed, err := l.Sync(state, hashA, []string{"1234", "5678", "1234", ""})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Contains("5678"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1234\n5678\n", string(data))

	stored, err := state.TagHash()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, stored)

	// Reloading from disk yields the same list.
	again, err := LoadTagList(path)
	require.NoError(t, err)
	assert.True(t, again.Contains("1234"))
	assert.Equal(t, 2, again.Len())
}

func TestTagListSyncSameHashSkipsWrite(t *testing.T) {
	state := openState(t)
	path := filepath.Join(t.TempDir(), "tags.txt")
	l, err := LoadTagList(path)
	require.NoError(t, err)

	_, err = l.Sync(state, hashA, []string{"1"})
	require.NoError(t, err)
	before, err := os.Stat(path)
	require.NoError(t, err)

	changed, err := l.Sync(state, strings.ToUpper(hashA), []string{"2"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, l.Contains("1"))
	assert.False(t, l.Contains("2"))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestTagListSyncZeroHashOnFreshStore(t *testing.T) {
	state := openState(t)
	l, err := LoadTagList(filepath.Join(t.TempDir(), "tags.txt"))
	require.NoError(t, err)

	// A fresh store holds the all-zero hash, so an all-zero sync is a no-op.
	changed, err := l.Sync(state, strings.Repeat("0", 32), []string{"1"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTagListSyncInvalidHash(t *testing.T) {
	state := openState(t)
	l, err := LoadTagList(filepath.Join(t.TempDir(), "tags.txt"))
	require.NoError(t, err)

	for _, h := range []string{"", "xyz", "0011", strings.Repeat("a", 34)} {
		_, err := l.Sync(state, h, nil)
		assert.ErrorIs(t, err, ErrInvalidHash, h)
	}

	stored, err := state.TagHash()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(make([]byte, nvstate.TagHashLen), stored))
}
