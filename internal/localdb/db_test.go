package localdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "terminal.db")
	d, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, path
}

func TestOpenSetsSchemaVersion(t *testing.T) {
	d, _ := createTestDB(t)

	var version int
	require.NoError(t, d.SQL().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var mode string
	require.NoError(t, d.SQL().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpenIsIdempotent(t *testing.T) {
	d, path := createTestDB(t)
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "k", []byte("v")))
	require.NoError(t, d.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	v, ok, err := again.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestKV(t *testing.T) {
	d, _ := createTestDB(t)
	ctx := context.Background()

	_, ok, err := d.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Put(ctx, "slot", []byte("one")))
	require.NoError(t, d.Put(ctx, "slot", []byte("two")))
	v, ok, err := d.Get(ctx, "slot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(v))

	require.NoError(t, d.Delete(ctx, "slot"))
	_, ok, err = d.Get(ctx, "slot")
	require.NoError(t, err)
	assert.False(t, ok)
}
