package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "expense_sync/internal/errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Queue is the durable write-ahead log of pending remote operations.
type Queue struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Enqueue persists item, blob included. It returns only after the commit, so
// a nil error means the item survives a crash.
func (q *Queue) Enqueue(ctx context.Context, item *Item) error {
	if item == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "queue item is required")
	}
	if !item.Kind.Valid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown queue item kind %q", item.Kind))
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	now := q.now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(item).Error
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDurability, err, "enqueue item")
	}

	log.Debug().
		Str("item_id", item.ID).
		Str("kind", string(item.Kind)).
		Int("blob_bytes", len(item.Blob)).
		Msg("Item enqueued")

	return nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	var item Item
	err := q.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("queue item %s not found", id))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDurability, err, "read queue item")
	}
	return &item, nil
}

// ListPending returns PENDING and RETRY items, oldest first.
func (q *Queue) ListPending(ctx context.Context) ([]Item, error) {
	return q.list(ctx, StatusPending, StatusRetry)
}

func (q *Queue) ListFailed(ctx context.Context) ([]Item, error) {
	return q.list(ctx, StatusFailed)
}

func (q *Queue) list(ctx context.Context, statuses ...Status) ([]Item, error) {
	var items []Item
	err := q.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDurability, err, "list queue items")
	}
	return items, nil
}

func (q *Queue) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	return q.update(ctx, id, map[string]any{
		"status":          update.Status,
		"retry_count":     update.RetryCount,
		"last_error":      update.LastError,
		"last_error_code": update.LastErrorCode,
	})
}

// RecordBlob stores the remote identity of an uploaded blob. Callers must do
// this before writing the row that references it.
func (q *Queue) RecordBlob(ctx context.Context, id, fileID, viewLink string) error {
	return q.update(ctx, id, map[string]any{
		"blob_file_id":   fileID,
		"blob_view_link": viewLink,
	})
}

func (q *Queue) update(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = q.now().UTC()
	res := q.db.WithContext(ctx).Model(&Item{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDurability, res.Error, "update queue item")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("queue item %s not found", id))
	}
	return nil
}

// Remove deletes a completed item. Removing a missing item is not an error.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.db.WithContext(ctx).Where("id = ?", id).Delete(&Item{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDurability, err, "remove queue item")
	}
	return nil
}

// Count is the number of items still waiting to sync (PENDING or RETRY).
// FAILED items need manual intervention and are only reported by
// CountByStatus.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&Item{}).
		Where("status IN ?", []Status{StatusPending, StatusRetry}).
		Count(&n).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDurability, err, "count queue items")
	}
	return n, nil
}

func (q *Queue) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		N      int64
	}
	err := q.db.WithContext(ctx).Model(&Item{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDurability, err, "count queue items by status")
	}

	counts := map[Status]int64{StatusPending: 0, StatusRetry: 0, StatusFailed: 0}
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

// Requeue moves a FAILED item back to PENDING with a fresh retry budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	res := q.db.WithContext(ctx).Model(&Item{}).
		Where("id = ? AND status = ?", id, StatusFailed).
		Updates(map[string]any{
			"status":          StatusPending,
			"retry_count":     0,
			"last_error":      "",
			"last_error_code": "",
			"updated_at":      q.now().UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDurability, res.Error, "requeue item")
	}
	if res.RowsAffected > 0 {
		log.Info().Str("item_id", id).Msg("Item requeued")
		return nil
	}

	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("queue item %s is %s, not FAILED", id, item.Status))
}
