package capture

import (
	"context"
	"errors"
	"time"

	"expense_sync/internal/columns"
	"expense_sync/internal/drive"
	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/expense"
	"expense_sync/internal/queue"
	"expense_sync/internal/rows"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultFastPathTimeout = 30 * time.Second

type authChecker interface {
	Check(ctx context.Context) error
}

type connectivity interface {
	Online() bool
}

type Params struct {
	Queue    *queue.Queue
	Resolver *columns.Resolver
	Rows     *rows.Allocator
	Blobs    drive.Uploader
	Auth     authChecker

	// Optional.
	Online          connectivity
	AddVendors      bool
	FastPathTimeout time.Duration
}

// Request is one expense as entered, with its receipt.
type Request struct {
	Expense     expense.Expense
	Receipt     []byte
	ContentType string
}

// Outcome tells the caller where the expense ended up. Exactly one of Synced
// and Queued is set.
type Outcome struct {
	ExpenseID string `json:"expense_id"`
	Synced    bool   `json:"synced"`
	Queued    bool   `json:"queued"`
	Row       int    `json:"row,omitempty"`
	FileID    string `json:"file_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Service records expenses, writing them straight through when possible and
// otherwise handing them to the durable queue.
type Service struct {
	queue    *queue.Queue
	resolver *columns.Resolver
	rows     *rows.Allocator
	blobs    drive.Uploader
	auth     authChecker
	online   connectivity

	addVendors bool
	timeout    time.Duration
	now        func() time.Time
}

func New(params Params) (*Service, error) {
	if params.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if params.Resolver == nil || params.Rows == nil {
		return nil, errors.New("sheet resolver and row allocator are required")
	}
	if params.Blobs == nil {
		return nil, errors.New("blob uploader is required")
	}
	if params.Auth == nil {
		return nil, errors.New("auth checker is required")
	}
	timeout := params.FastPathTimeout
	if timeout <= 0 {
		timeout = defaultFastPathTimeout
	}
	return &Service{
		queue:      params.Queue,
		resolver:   params.Resolver,
		rows:       params.Rows,
		blobs:      params.Blobs,
		auth:       params.Auth,
		online:     params.Online,
		addVendors: params.AddVendors,
		timeout:    timeout,
		now:        time.Now,
	}, nil
}

// Capture validates the expense and tries the online fast path. Any failure
// there, or being offline, turns the expense into one queue item that keeps
// whatever progress was made. A returned error means nothing was recorded.
func (s *Service) Capture(ctx context.Context, req Request) (Outcome, error) {
	exp := req.Expense
	exp.Normalize()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = s.now().UTC()
	}
	if err := exp.Validate(); err != nil {
		return Outcome{}, err
	}
	if len(req.Receipt) == 0 {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "receipt is required")
	}

	id := uuid.NewString()
	var uploaded drive.UploadResult

	reason := "offline"
	if s.online == nil || s.online.Online() {
		outcome, res, err := s.fastPath(ctx, id, exp, req)
		if err == nil {
			s.enrich(ctx, exp)
			return outcome, nil
		}
		uploaded = res
		reason = err.Error()
		log.Warn().Err(err).Str("expense_id", id).Msg("Direct sync failed, queueing expense")
	}

	item, err := queue.NewItem(queue.KindUploadAndAppend, exp)
	if err != nil {
		return Outcome{}, err
	}
	item.ID = id
	item.WithBlob(req.Receipt, req.ContentType)
	item.BlobFileID = uploaded.ID
	item.BlobViewLink = uploaded.ViewLink

	if err := s.queue.Enqueue(ctx, item); err != nil {
		log.Error().Err(err).Str("expense_id", id).Msg("Expense could not be saved locally")
		return Outcome{}, err
	}
	s.enrich(ctx, exp)

	log.Info().
		Str("expense_id", id).
		Bool("receipt_uploaded", uploaded.ID != "").
		Msg("Expense queued for sync")
	return Outcome{ExpenseID: id, Queued: true, FileID: uploaded.ID, Reason: reason}, nil
}

// fastPath uploads and appends directly. The upload result is returned even
// on failure so a queued retry does not upload twice.
func (s *Service) fastPath(ctx context.Context, id string, exp expense.Expense, req Request) (Outcome, drive.UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.auth.Check(ctx); err != nil {
		return Outcome{}, drive.UploadResult{}, err
	}

	m, err := s.resolver.EnsureMetadataColumns(ctx)
	if err != nil {
		return Outcome{}, drive.UploadResult{}, err
	}

	res, err := s.blobs.Upload(ctx, req.Receipt, req.ContentType, exp.FolderPath(), exp.FileName(id, req.ContentType))
	if err != nil {
		return Outcome{}, drive.UploadResult{}, err
	}

	receipt := expense.Receipt{FileID: res.ID, ViewLink: res.ViewLink}
	row, err := s.rows.AppendRecord(ctx, m, exp.Fields(id, receipt, s.now()))
	if err != nil {
		return Outcome{}, res, err
	}

	log.Info().Str("expense_id", id).Int("row", row.Index).Msg("Expense synced")
	return Outcome{ExpenseID: id, Synced: true, Row: row.Index, FileID: res.ID}, res, nil
}

// enrich queues the vendor for the pick-list. Failures are only logged.
func (s *Service) enrich(ctx context.Context, exp expense.Expense) {
	if !s.addVendors || exp.Vendor == "" {
		return
	}
	item, err := queue.NewItem(queue.KindAddListItem, queue.ListEntry{List: queue.ListVendors, Value: exp.Vendor})
	if err == nil {
		err = s.queue.Enqueue(ctx, item)
	}
	if err != nil {
		log.Warn().Err(err).Str("vendor", exp.Vendor).Msg("Could not queue vendor for the list")
	}
}
