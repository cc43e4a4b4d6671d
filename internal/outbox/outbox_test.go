package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ariefcatur/go-restaurant-orders/internal/localdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestQueue(t *testing.T) (*Queue, *localdb.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	db, err := localdb.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil), db, path
}

func createEntry(ref string, tempID int64) Entry {
	return Entry{
		Kind:      KindCreate,
		TempID:    tempID,
		ClientRef: ref,
		Payload:   []byte(`{"clientRef":"` + ref + `","tenantId":7}`),
	}
}

func TestEnqueueListFIFO(t *testing.T) {
	q, _, _ := createTestQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, createEntry("a", -1))
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, createEntry("b", -2))
	require.NoError(t, err)
	c, err := q.Enqueue(ctx, Entry{Kind: KindUpdate, OrderID: 42, ClientRef: "a", Payload: []byte(`{"id":42}`)})
	require.NoError(t, err)
	assert.Less(t, a.Seq, b.Seq)
	assert.Less(t, b.Seq, c.Seq)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "b", "a"}, []string{list[0].ClientRef, list[1].ClientRef, list[2].ClientRef})
	assert.Equal(t, int64(-2), list[1].TempID)
	assert.Equal(t, KindUpdate, list[2].Kind)
	assert.Equal(t, int64(42), list[2].OrderID)
}

func TestEnqueueSameCreateTwice(t *testing.T) {
	q, _, _ := createTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, createEntry("dup", -1))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, createEntry("dup", -9))
	require.NoError(t, err)
	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, int64(-1), second.TempID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueRejectsInvalid(t *testing.T) {
	q, _, _ := createTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Entry{Kind: "delete", ClientRef: "x", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = q.Enqueue(ctx, Entry{Kind: KindCreate, ClientRef: "x", Payload: []byte(`{`)})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = q.Enqueue(ctx, Entry{Kind: KindCreate, Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestSurvivesReopen(t *testing.T) {
	q, db, path := createTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, createEntry("persist", -5))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := localdb.Open(path)
	require.NoError(t, err)
	defer db2.Close()

	list, err := New(db2, nil).List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "persist", list[0].ClientRef)
	assert.Equal(t, int64(-5), list[0].TempID)
}

func TestListDropsCorruptedRows(t *testing.T) {
	q, db, _ := createTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, createEntry("good", -1))
	require.NoError(t, err)
	_, err = db.SQL().Exec(`INSERT INTO outbox (kind, client_ref, payload, created_at) VALUES ('create', 'bad', 'not json', 0)`)
	require.NoError(t, err)
	_, err = db.SQL().Exec(`INSERT INTO outbox (kind, client_ref, payload, created_at) VALUES ('explode', 'weird', '{}', 0)`)
	require.NoError(t, err)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].ClientRef)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkFailedAndDeadLetter(t *testing.T) {
	q, _, _ := createTestQueue(t)
	ctx := context.Background()

	e, err := q.Enqueue(ctx, createEntry("reject", -1))
	require.NoError(t, err)

	attempts, err := q.MarkFailed(ctx, e.Seq, errors.New("400 bad item"))
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	attempts, err = q.MarkFailed(ctx, e.Seq, errors.New("400 bad item"))
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "400 bad item", list[0].LastError)

	require.NoError(t, q.DeadLetter(ctx, e.Seq, "rejected"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	dead, err := q.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, e.Seq, dead[0].Seq)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Equal(t, "rejected", dead[0].Reason)

	assert.ErrorIs(t, q.DeadLetter(ctx, e.Seq, "again"), ErrNotFound)
	_, err = q.MarkFailed(ctx, e.Seq, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOnlyRemovesOne(t *testing.T) {
	q, _, _ := createTestQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, createEntry("a", -1))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, createEntry("b", -2))
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, a.Seq))
	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ClientRef)
}
