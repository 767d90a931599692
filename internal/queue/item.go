package queue

import (
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "expense_sync/internal/errors"

	"github.com/google/uuid"
)

type Kind string

const (
	KindUploadAndAppend Kind = "UPLOAD_AND_APPEND"
	KindUpdateRow       Kind = "UPDATE_ROW"
	KindDelete          Kind = "DELETE"
	KindAddListItem     Kind = "ADD_LIST_ITEM"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUploadAndAppend, KindUpdateRow, KindDelete, KindAddListItem:
		return true
	}
	return false
}

type Status string

const (
	StatusPending Status = "PENDING"
	StatusRetry   Status = "RETRY"
	StatusFailed  Status = "FAILED"
)

// Item is one pending remote operation. Its ID doubles as the idempotency key
// and, for uploads, as the ExpenseId written to the remote row.
type Item struct {
	ID              string    `gorm:"primaryKey;type:text" json:"id"`
	Kind            Kind      `gorm:"type:text;not null;index" json:"kind"`
	Payload         []byte    `gorm:"not null" json:"-"`
	Blob            []byte    `json:"-"`
	BlobContentType string    `json:"blob_content_type,omitempty"`
	BlobFileID      string    `json:"blob_file_id,omitempty"`
	BlobViewLink    string    `json:"blob_view_link,omitempty"`
	Status          Status    `gorm:"type:text;not null;index" json:"status"`
	RetryCount      int       `gorm:"not null;default:0" json:"retry_count"`
	LastError       string    `json:"last_error,omitempty"`
	LastErrorCode   string    `json:"last_error_code,omitempty"`
	CreatedAt       time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Item) TableName() string {
	return "queue_items"
}

// RowChange is the payload of UPDATE_ROW and DELETE items. Changes is keyed
// by canonical field name.
type RowChange struct {
	ExpenseID string            `json:"expense_id"`
	Changes   map[string]string `json:"changes,omitempty"`
}

type ListKind string

const (
	ListVendors    ListKind = "VENDOR"
	ListProperties ListKind = "PROPERTY"
)

// ListEntry is the payload of ADD_LIST_ITEM items.
type ListEntry struct {
	List  ListKind `json:"list"`
	Value string   `json:"value"`
}

// NewItem encodes payload as JSON and assigns a fresh ID.
func NewItem(kind Kind, payload any) (*Item, error) {
	if !kind.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown queue item kind %q", kind))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode queue payload")
	}
	return &Item{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: data,
		Status:  StatusPending,
	}, nil
}

// WithBlob attaches bytes to upload with the item.
func (i *Item) WithBlob(data []byte, contentType string) *Item {
	i.Blob = data
	i.BlobContentType = contentType
	return i
}

func (i *Item) DecodePayload(v any) error {
	if err := json.Unmarshal(i.Payload, v); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", i.Kind))
	}
	return nil
}

// HasRemoteBlob reports whether an earlier attempt already uploaded the blob.
func (i *Item) HasRemoteBlob() bool {
	return i.BlobFileID != ""
}

func (i *Item) Eligible() bool {
	return i.Status == StatusPending || i.Status == StatusRetry
}

// StatusUpdate carries the columns UpdateStatus writes.
type StatusUpdate struct {
	Status        Status
	RetryCount    int
	LastError     string
	LastErrorCode string
}

// RecordFailure counts a failed attempt. The item becomes FAILED once the
// count passes ceiling, RETRY otherwise.
func (i *Item) RecordFailure(err error, ceiling int) StatusUpdate {
	i.RetryCount++
	i.noteError(err)
	if i.RetryCount > ceiling {
		i.Status = StatusFailed
	} else {
		i.Status = StatusRetry
	}
	return i.statusUpdate()
}

// RecordPermanentFailure fails the item now. The count is lifted past ceiling
// so FAILED items always satisfy RetryCount > ceiling.
func (i *Item) RecordPermanentFailure(err error, ceiling int) StatusUpdate {
	i.RetryCount = max(i.RetryCount+1, ceiling+1)
	i.noteError(err)
	i.Status = StatusFailed
	return i.statusUpdate()
}

// RecordInterruption notes err without consuming an attempt.
func (i *Item) RecordInterruption(err error) StatusUpdate {
	i.noteError(err)
	return i.statusUpdate()
}

func (i *Item) noteError(err error) {
	if err == nil {
		i.LastError = ""
		i.LastErrorCode = ""
		return
	}
	i.LastError = err.Error()
	i.LastErrorCode = string(pkgerrors.CodeOf(err))
}

func (i *Item) statusUpdate() StatusUpdate {
	return StatusUpdate{
		Status:        i.Status,
		RetryCount:    i.RetryCount,
		LastError:     i.LastError,
		LastErrorCode: i.LastErrorCode,
	}
}
