package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract runs the behaviour every backend must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "state.json")
	assert.True(t, errors.Is(err, ErrNotFound), "missing object should be ErrNotFound, got %v", err)

	require.NoError(t, s.Put(ctx, "state.json", []byte(`{"version":1}`)))
	got, err := s.Get(ctx, "state.json")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))

	require.NoError(t, s.Put(ctx, "state.json", []byte(`{"version":2}`)))
	got, err = s.Get(ctx, "state.json")
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(got))

	binary := []byte{0x50, 0x4b, 0x03, 0x04, 0xff, 0xfe, 0x00}
	require.NoError(t, s.Put(ctx, "plan.xlsx", binary))
	got, err = s.Get(ctx, "plan.xlsx")
	require.NoError(t, err)
	assert.Equal(t, binary, got)
}

func TestDirStore(t *testing.T) {
	s, err := NewDirStore(filepath.Join(t.TempDir(), "nested", "data"))
	require.NoError(t, err)
	storeContract(t, s)
}

func TestDirStoreRejectsBadKeys(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"", "..", "../escape", "a/b"} {
		assert.Error(t, s.Put(ctx, key, []byte("x")), "key %q", key)
		_, err := s.Get(ctx, key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestDirStoreFailedPutKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "state.json", []byte("old")))

	// a directory in place of the target makes the final rename fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, "blocked"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocked", "keep"), []byte("x"), 0644))
	assert.Error(t, s.Put(ctx, "blocked", []byte("new")))

	got, err := s.Get(ctx, "state.json")
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp file left behind")
	}
}

func TestSyncDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, syncDir(dir))
	assert.Error(t, syncDir(filepath.Join(dir, "missing")))
}

func TestDirStorePutLeavesOnlyTarget(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "state.json", []byte("v1")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestDirStoreCancelledContext(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Put(ctx, "state.json", []byte("x")), context.Canceled)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/.local/share/homegames")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local/share/homegames"), got)

	got, err = ExpandHome("/var/lib/homegames")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/homegames", got)
}

func TestBoltStore(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "homegames.db"), time.Second)
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
}

func TestBoltStoreExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homegames.db")
	s, err := NewBoltStore(path, time.Second)
	require.NoError(t, err)
	defer s.Close()

	_, err = NewBoltStore(path, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), RedisOptions{Address: mr.Addr(), Prefix: "homegames:"})
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
	assert.True(t, mr.Exists("homegames:state.json"))
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisOptions{Address: addr})
	assert.Error(t, err)
}
