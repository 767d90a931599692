package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"expense_sync/internal/columns"
	"expense_sync/internal/drive/drivetest"
	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/expense"
	"expense_sync/internal/lists"
	"expense_sync/internal/notifications"
	"expense_sync/internal/queue"
	"expense_sync/internal/rows"
	"expense_sync/internal/sheets"
	"expense_sync/internal/sheets/sheetstest"
	"expense_sync/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	txTab    = "Transactions (1065)"
	listsTab = "Lists"
)

var baseHeader = []string{"Date", "Vendor", "Description", "Amount", "Category", "Property", "Paid Via", "1099", "Class", "Notes", "Receipt Link"}

type authStub struct {
	mu  sync.Mutex
	err error
}

func (a *authStub) Check(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *authStub) set(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

type onlineStub struct{ v atomic.Bool }

func (o *onlineStub) Online() bool { return o.v.Load() }

type notifierStub struct {
	mu    sync.Mutex
	items []notifications.FailedItem
}

func (n *notifierStub) NotifyFailed(ctx context.Context, items []notifications.FailedItem) {
	n.mu.Lock()
	n.items = append(n.items, items...)
	n.mu.Unlock()
}

type fixture struct {
	engine   *Engine
	queue    *queue.Queue
	sheet    *sheetstest.Fake
	drive    *drivetest.Fake
	auth     *authStub
	online   *onlineStub
	notifier *notifierStub
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	client, err := store.Open(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Migrate(ctx, &queue.Item{}))

	sheet := sheetstest.New()
	sheet.SetRow(txTab, 1, baseHeader...)
	sheet.SetRow(listsTab, 1, "Vendors", "Properties")

	f := &fixture{
		queue:    queue.New(client.DB()),
		sheet:    sheet,
		drive:    drivetest.New(),
		auth:     &authStub{},
		online:   &onlineStub{},
		notifier: &notifierStub{},
	}
	f.online.v.Store(true)

	engine, err := New(Params{
		Queue:      f.queue,
		Resolver:   columns.NewResolver(sheet, txTab),
		Rows:       rows.NewAllocator(sheet, txTab),
		Blobs:      f.drive,
		Lists:      lists.New(sheet, listsTab, "Summary Dashboard"),
		Auth:       f.auth,
		Online:     f.online,
		Notifier:   f.notifier,
		MaxRetries: 2,
	})
	require.NoError(t, err)
	engine.now = func() time.Time { return fixedNow }
	f.engine = engine
	return f
}

func sampleExpense() expense.Expense {
	return expense.Expense{
		Date:     "2024-02-14",
		Vendor:   "Home Depot",
		Amount:   decimal.RequireFromString("42.10"),
		Category: "Repairs",
		Class:    "OpEx",
		Member:   "Sam",
	}
}

func (f *fixture) enqueueExpense(t *testing.T, created time.Time) *queue.Item {
	t.Helper()
	item, err := queue.NewItem(queue.KindUploadAndAppend, sampleExpense())
	require.NoError(t, err)
	item.WithBlob([]byte("%PDF-1.4 receipt"), "application/pdf")
	item.CreatedAt = created
	require.NoError(t, f.queue.Enqueue(context.Background(), item))
	return item
}

func (f *fixture) enqueue(t *testing.T, kind queue.Kind, payload any, created time.Time) *queue.Item {
	t.Helper()
	item, err := queue.NewItem(kind, payload)
	require.NoError(t, err)
	item.CreatedAt = created
	require.NoError(t, f.queue.Enqueue(context.Background(), item))
	return item
}

// record reads data row n of the transactions tab through the current header.
func (f *fixture) record(n int) map[columns.Field]string {
	m := columns.Resolve(f.sheet.Row(txTab, 1))
	return m.Record(f.sheet.Row(txTab, n))
}

func (f *fixture) pending(t *testing.T) []queue.Item {
	t.Helper()
	items, err := f.queue.ListPending(context.Background())
	require.NoError(t, err)
	return items
}

func (f *fixture) get(t *testing.T, id string) *queue.Item {
	t.Helper()
	item, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return item
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)
}

func TestOfflineThenRestoredDrainsEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueueExpense(t, fixedNow.Add(-time.Hour))

	f.online.v.Store(false)
	result, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, f.sheet.Calls())
	assert.Equal(t, 0, f.drive.Count())
	assert.Len(t, f.pending(t), 1)

	f.online.v.Store(true)
	result, err = f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 1, Synced: 1}, result)

	require.Equal(t, 1, f.drive.Count())
	upload := f.drive.Uploads()[0]
	assert.Equal(t, []string{"Sam", "2024"}, upload.FolderPath)
	assert.Equal(t, "2024-02-14_Home-Depot_42.10_"+expense.ShortID(item.ID)+".pdf", upload.Filename)

	got := f.record(2)
	assert.Equal(t, "2024-02-14", got[columns.Date])
	assert.Equal(t, "Home Depot", got[columns.Vendor])
	assert.Equal(t, "42.10", got[columns.Amount])
	assert.Equal(t, item.ID, got[columns.ExpenseID])
	assert.Equal(t, "file-1", got[columns.ReceiptFileID])
	assert.Equal(t, rows.StatusActive, got[columns.Status])
	assert.Equal(t, `=HYPERLINK("https://drive.google.com/file/d/file-1/view", "Receipt")`, got[columns.ReceiptLink])

	assert.Empty(t, f.pending(t))
	count, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProvisionsMetadataColumnsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueueExpense(t, fixedNow.Add(-2*time.Hour))
	f.enqueueExpense(t, fixedNow.Add(-time.Hour))

	_, err := f.engine.Drain(ctx)
	require.NoError(t, err)

	header := f.sheet.Row(txTab, 1)
	assert.Equal(t, append(append([]string{}, baseHeader...), "ExpenseId", "Member", "ReceiptFileId", "Status", "CreatedAt", "UpdatedAt"), header)
	assert.NotEmpty(t, f.record(2)[columns.ExpenseID])
	assert.NotEmpty(t, f.record(3)[columns.ExpenseID])
}

func TestRecordedBlobIsNotUploadedAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueueExpense(t, fixedNow)
	require.NoError(t, f.queue.RecordBlob(ctx, item.ID, "file-earlier", "https://drive.example/file-earlier"))

	result, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, f.drive.Count())
	assert.Equal(t, "file-earlier", f.record(2)[columns.ReceiptFileID])
}

func TestRowFailureAfterUploadKeepsBlobForRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueueExpense(t, fixedNow)

	// Header provisioning writes row 1; fail only data row writes.
	f.sheet.FailOn = func(op string, r sheets.RangeSpec) error {
		if op == "write" && r.StartRow > 1 {
			return pkgerrors.New(pkgerrors.CodeTransient, "connection reset")
		}
		return nil
	}

	result, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retrying)

	stored := f.get(t, item.ID)
	assert.Equal(t, queue.StatusRetry, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "file-1", stored.BlobFileID)
	assert.Equal(t, string(pkgerrors.CodeTransient), stored.LastErrorCode)

	f.sheet.FailOn = nil
	result, err = f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, f.drive.Count())
	assert.Equal(t, "file-1", f.record(2)[columns.ReceiptFileID])
}

func TestExistingRowIsNotAppendedTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueueExpense(t, fixedNow)
	require.NoError(t, f.queue.RecordBlob(ctx, item.ID, "file-9", "https://drive.example/file-9"))

	header := append(append([]string{}, baseHeader...), "ExpenseId", "Member", "ReceiptFileId", "Status", "CreatedAt", "UpdatedAt")
	f.sheet.SetRow(txTab, 1, header...)
	written := make([]string, len(header))
	written[0] = "2024-02-14"
	written[11] = item.ID
	f.sheet.SetRow(txTab, 2, written...)
	f.sheet.ResetCalls()

	result, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, f.sheet.CountOps("write"))
	assert.Equal(t, 2, f.sheet.RowCount(txTab))
	assert.Empty(t, f.pending(t))
}

func TestTransientFailuresReachFailedPastCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueueExpense(t, fixedNow)
	f.drive.Fail(pkgerrors.New(pkgerrors.CodeTransient, "503 backend error"))

	for i := 1; i <= 2; i++ {
		_, err := f.engine.Drain(ctx)
		require.NoError(t, err)
		stored := f.get(t, item.ID)
		assert.Equal(t, queue.StatusRetry, stored.Status)
		assert.Equal(t, i, stored.RetryCount)
	}

	result, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored := f.get(t, item.ID)
	assert.Equal(t, queue.StatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Empty(t, f.pending(t))

	require.Len(t, f.notifier.items, 1)
	assert.Equal(t, item.ID, f.notifier.items[0].ID)
	assert.Equal(t, "2024-02-14 Home Depot 42.10", f.notifier.items[0].Summary)

	result, err = f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
}

func TestMissingRowFailsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueue(t, queue.KindUpdateRow, queue.RowChange{ExpenseID: "nope", Changes: map[string]string{"Amount": "5.00"}}, fixedNow)

	result, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored := f.get(t, item.ID)
	assert.Equal(t, queue.StatusFailed, stored.Status)
	assert.Equal(t, string(pkgerrors.CodeNotFound), stored.LastErrorCode)
	assert.Greater(t, stored.RetryCount, f.engine.MaxRetries())
}

func TestMissingBlobFailsImmediately(t *testing.T) {
	f := newFixture(t)
	item := f.enqueue(t, queue.KindUploadAndAppend, sampleExpense(), fixedNow)

	_, err := f.engine.Drain(context.Background())
	require.NoError(t, err)

	stored := f.get(t, item.ID)
	assert.Equal(t, queue.StatusFailed, stored.Status)
	assert.Equal(t, string(pkgerrors.CodeValidation), stored.LastErrorCode)
}

func TestUpdateAndDeleteRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueueExpense(t, fixedNow.Add(-time.Hour))
	_, err := f.engine.Drain(ctx)
	require.NoError(t, err)

	f.enqueue(t, queue.KindUpdateRow, queue.RowChange{ExpenseID: item.ID, Changes: map[string]string{"amount": "50.00", "Notes": "corrected"}}, fixedNow)
	_, err = f.engine.Drain(ctx)
	require.NoError(t, err)

	got := f.record(2)
	assert.Equal(t, "50.00", got[columns.Amount])
	assert.Equal(t, "corrected", got[columns.Notes])
	assert.Equal(t, "Home Depot", got[columns.Vendor])
	assert.Equal(t, fixedNow.Format(time.RFC3339), got[columns.UpdatedAt])

	f.enqueue(t, queue.KindDelete, queue.RowChange{ExpenseID: item.ID}, fixedNow.Add(time.Minute))
	_, err = f.engine.Drain(ctx)
	require.NoError(t, err)

	got = f.record(2)
	assert.Equal(t, rows.StatusDeleted, got[columns.Status])
	assert.Equal(t, "50.00", got[columns.Amount])
	assert.Empty(t, f.pending(t))
}

func TestUpdateRejectsKeyChanges(t *testing.T) {
	_, err := changedFields(map[string]string{"ExpenseId": "x"}, false)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = changedFields(map[string]string{"Colour": "red"}, false)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = changedFields(nil, false)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestAddListItem(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, queue.KindAddListItem, queue.ListEntry{List: queue.ListVendors, Value: "Home Depot"}, fixedNow)

	result, err := f.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, "Home Depot", f.sheet.Cell(listsTab, 0, 2))
}

func TestAuthMissingLeavesQueueUntouched(t *testing.T) {
	f := newFixture(t)
	item := f.enqueueExpense(t, fixedNow)
	f.auth.set(pkgerrors.New(pkgerrors.CodeAuth, "no google credentials configured"))

	result, err := f.engine.Drain(context.Background())
	require.Error(t, err)
	assert.True(t, result.AuthRequired)
	assert.Equal(t, pkgerrors.CodeAuth, pkgerrors.CodeOf(err))
	assert.Empty(t, f.sheet.Calls())

	stored := f.get(t, item.ID)
	assert.Equal(t, queue.StatusPending, stored.Status)
	assert.Zero(t, stored.RetryCount)
}

func TestAuthFailureMidDrainStopsWithoutConsumingAttempts(t *testing.T) {
	f := newFixture(t)
	first := f.enqueueExpense(t, fixedNow.Add(-time.Minute))
	second := f.enqueueExpense(t, fixedNow)
	f.drive.Fail(pkgerrors.New(pkgerrors.CodeAuth, "token revoked"))

	result, err := f.engine.Drain(context.Background())
	require.Error(t, err)
	assert.True(t, result.AuthRequired)
	assert.Equal(t, 1, result.Attempted)

	stored := f.get(t, first.ID)
	assert.Equal(t, queue.StatusPending, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Equal(t, string(pkgerrors.CodeAuth), stored.LastErrorCode)

	untouched := f.get(t, second.ID)
	assert.Empty(t, untouched.LastError)
}

func TestTransientTokenFailureDefersDrain(t *testing.T) {
	f := newFixture(t)
	item := f.enqueueExpense(t, fixedNow)
	f.auth.set(pkgerrors.New(pkgerrors.CodeTransient, "dial tcp: timeout"))

	result, err := f.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
	assert.Zero(t, f.get(t, item.ID).RetryCount)
}

func TestConcurrentDrainIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.enqueueExpense(t, fixedNow)

	f.engine.draining.Store(true)
	result, err := f.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 0, f.drive.Count())

	f.engine.draining.Store(false)
	result, err = f.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
}

func TestRunDrainsOnStartupAndTriggers(t *testing.T) {
	f := newFixture(t)
	f.engine.pollInterval = time.Hour
	restored := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, restored) }()

	f.enqueueExpense(t, fixedNow)
	restored <- struct{}{}
	require.Eventually(t, func() bool { return f.drive.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.enqueueExpense(t, fixedNow.Add(time.Second))
	f.engine.Trigger()
	require.Eventually(t, func() bool { return f.drive.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
