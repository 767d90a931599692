package queue

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestQueue(t *testing.T) (*Queue, *store.Client) {
	t.Helper()
	ctx := context.Background()
	client, err := store.Open(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Migrate(ctx, &Item{}))

	q := New(client.DB())
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q.now = c.now
	return q, client
}

func mustItem(t *testing.T, kind Kind, payload any) *Item {
	t.Helper()
	item, err := NewItem(kind, payload)
	require.NoError(t, err)
	return item
}

func TestEnqueueAndListPendingInOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first := mustItem(t, KindUploadAndAppend, map[string]string{"vendor": "Acme"}).WithBlob([]byte("%PDF-1.4"), "application/pdf")
	second := mustItem(t, KindAddListItem, ListEntry{List: ListVendors, Value: "Acme"})
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	items, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)
	assert.Equal(t, []byte("%PDF-1.4"), items[0].Blob)
	assert.Equal(t, "application/pdf", items[0].BlobContentType)
	assert.Equal(t, StatusPending, items[0].Status)

	var entry ListEntry
	require.NoError(t, items[1].DecodePayload(&entry))
	assert.Equal(t, ListEntry{List: ListVendors, Value: "Acme"}, entry)
}

func TestEnqueueFillsDefaults(t *testing.T) {
	q, _ := newTestQueue(t)

	item := &Item{Kind: KindDelete, Payload: []byte(`{"expense_id":"x"}`)}
	require.NoError(t, q.Enqueue(context.Background(), item))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, StatusPending, item.Status)
	assert.False(t, item.CreatedAt.IsZero())
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	q, _ := newTestQueue(t)

	err := q.Enqueue(context.Background(), &Item{Kind: "TELEPORT", Payload: []byte("{}")})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = NewItem("TELEPORT", nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestEnqueueOnClosedStoreIsDurabilityError(t *testing.T) {
	q, client := newTestQueue(t)
	require.NoError(t, client.Close())

	err := q.Enqueue(context.Background(), mustItem(t, KindDelete, RowChange{ExpenseID: "x"}))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDurability, pkgerrors.CodeOf(err))
}

func TestRecordFailureReachesFailedPastCeiling(t *testing.T) {
	item := &Item{Status: StatusPending}
	cause := pkgerrors.New(pkgerrors.CodeTransient, "503")

	update := item.RecordFailure(cause, 2)
	assert.Equal(t, StatusRetry, update.Status)
	assert.Equal(t, 1, update.RetryCount)
	assert.Equal(t, string(pkgerrors.CodeTransient), update.LastErrorCode)

	item.RecordFailure(cause, 2)
	assert.Equal(t, StatusRetry, item.Status)

	update = item.RecordFailure(cause, 2)
	assert.Equal(t, StatusFailed, update.Status)
	assert.Equal(t, 3, update.RetryCount)
}

func TestRecordPermanentFailureLiftsCount(t *testing.T) {
	item := &Item{Status: StatusRetry, RetryCount: 1}
	update := item.RecordPermanentFailure(pkgerrors.New(pkgerrors.CodeNotFound, "gone"), 5)

	assert.Equal(t, StatusFailed, update.Status)
	assert.Equal(t, 6, update.RetryCount)
	assert.Equal(t, string(pkgerrors.CodeNotFound), update.LastErrorCode)

	late := &Item{Status: StatusRetry, RetryCount: 4}
	late.RecordPermanentFailure(errors.New("x"), 2)
	assert.Equal(t, 5, late.RetryCount)
}

func TestFailedIffCountExceedsCeiling(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		ceiling := rng.Intn(6)
		item := &Item{Status: StatusPending}
		for step := 0; step < 12 && item.Status != StatusFailed; step++ {
			if rng.Intn(5) == 0 {
				item.RecordPermanentFailure(errors.New("schema"), ceiling)
			} else {
				item.RecordFailure(errors.New("transient"), ceiling)
			}
			require.Equal(t, item.Status == StatusFailed, item.RetryCount > ceiling,
				"run %d step %d: status %s count %d ceiling %d", run, step, item.Status, item.RetryCount, ceiling)
		}
	}
}

func TestRecordInterruptionKeepsCount(t *testing.T) {
	item := &Item{Status: StatusRetry, RetryCount: 2}
	update := item.RecordInterruption(pkgerrors.New(pkgerrors.CodeAuth, "token expired"))

	assert.Equal(t, StatusRetry, update.Status)
	assert.Equal(t, 2, update.RetryCount)
	assert.Equal(t, string(pkgerrors.CodeAuth), update.LastErrorCode)
}

func TestUpdateStatusMovesBetweenLists(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	item := mustItem(t, KindUpdateRow, RowChange{ExpenseID: "e1", Changes: map[string]string{"Amount": "3"}})
	require.NoError(t, q.Enqueue(ctx, item))

	require.NoError(t, q.UpdateStatus(ctx, item.ID, item.RecordPermanentFailure(errors.New("bad"), 5)))

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 6, failed[0].RetryCount)
	assert.Equal(t, "bad", failed[0].LastError)

	err = q.UpdateStatus(ctx, "missing", StatusUpdate{Status: StatusRetry})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestRecordBlobPersists(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	item := mustItem(t, KindUploadAndAppend, map[string]string{}).WithBlob([]byte("img"), "image/jpeg")
	require.NoError(t, q.Enqueue(ctx, item))

	require.NoError(t, q.RecordBlob(ctx, item.ID, "file-1", "https://drive.google.com/file/d/file-1/view"))

	got, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, got.HasRemoteBlob())
	assert.Equal(t, "file-1", got.BlobFileID)
	assert.Equal(t, "https://drive.google.com/file/d/file-1/view", got.BlobViewLink)
}

func TestRemoveAndCounts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	a := mustItem(t, KindDelete, RowChange{ExpenseID: "a"})
	b := mustItem(t, KindDelete, RowChange{ExpenseID: "b"})
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))
	require.NoError(t, q.UpdateStatus(ctx, b.ID, b.RecordFailure(errors.New("x"), 5)))

	counts, err := q.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int64{StatusPending: 1, StatusRetry: 1, StatusFailed: 0}, counts)

	require.NoError(t, q.Remove(ctx, a.ID))
	require.NoError(t, q.Remove(ctx, a.ID))
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, a.ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestRequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	item := mustItem(t, KindDelete, RowChange{ExpenseID: "a"})
	require.NoError(t, q.Enqueue(ctx, item))

	err := q.Requeue(ctx, item.ID)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "pending items cannot be requeued")

	require.NoError(t, q.UpdateStatus(ctx, item.ID, item.RecordPermanentFailure(errors.New("gone"), 5)))
	require.NoError(t, q.Requeue(ctx, item.ID))

	got, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.LastError)

	err = q.Requeue(ctx, "missing")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestCountExcludesFailed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	pending := mustItem(t, KindDelete, RowChange{ExpenseID: "a"})
	retrying := mustItem(t, KindDelete, RowChange{ExpenseID: "b"})
	failed := mustItem(t, KindDelete, RowChange{ExpenseID: "c"})
	for _, item := range []*Item{pending, retrying, failed} {
		require.NoError(t, q.Enqueue(ctx, item))
	}
	require.NoError(t, q.UpdateStatus(ctx, retrying.ID, retrying.RecordFailure(errors.New("timeout"), 5)))
	require.NoError(t, q.UpdateStatus(ctx, failed.ID, failed.RecordPermanentFailure(errors.New("row missing"), 5)))

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := q.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusFailed])
}
