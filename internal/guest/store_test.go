package guest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/localdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) (*Store, *localdb.DB, *time.Time) {
	t.Helper()
	db, err := localdb.Open(filepath.Join(t.TempDir(), "guest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(db, 3*time.Hour, nil)
	s.now = func() time.Time { return clock }
	return s, db, &clock
}

func TestSaveLoadClear(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, Session{OrderID: 42, Secret: "s-42"}))
	sess, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), sess.OrderID)
	assert.Equal(t, "s-42", sess.Secret)

	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLBoundary(t *testing.T) {
	s, _, clock := createTestStore(t)
	ctx := context.Background()
	issued := *clock

	require.NoError(t, s.Save(ctx, Session{OrderID: 1, Secret: "x", IssuedAt: issued}))

	*clock = issued.Add(3*time.Hour - time.Second)
	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "usable one second before expiry")

	*clock = issued.Add(3*time.Hour + time.Second)
	_, ok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "rejected one second after expiry")

	// expired sessions are removed, not kept around
	*clock = issued
	_, ok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptedSlotIsCleared(t *testing.T) {
	s, db, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, slotKey, []byte("{garbage")))
	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, present, err := db.Get(ctx, slotKey)
	require.NoError(t, err)
	assert.False(t, present)
}
