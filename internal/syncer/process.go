package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"expense_sync/internal/columns"
	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/expense"
	"expense_sync/internal/queue"
	"expense_sync/internal/rows"

	"github.com/rs/zerolog/log"
)

// session holds the column mapping for one drain. Metadata columns are
// provisioned on first use and the outcome is reused by every later item.
type session struct {
	ready   bool
	mapping columns.Mapping
	err     error
}

func (e *Engine) newSession() *session {
	e.resolver.Invalidate()
	return &session{}
}

func (e *Engine) sheetMapping(ctx context.Context, s *session) (columns.Mapping, error) {
	if !s.ready {
		s.mapping, s.err = e.resolver.EnsureMetadataColumns(ctx)
		s.ready = true
		if s.err != nil {
			log.Warn().Err(s.err).Str("sheet", e.resolver.Sheet()).Msg("Could not resolve sheet columns")
		}
	}
	return s.mapping, s.err
}

func (e *Engine) processItem(ctx context.Context, s *session, item *queue.Item) error {
	switch item.Kind {
	case queue.KindUploadAndAppend:
		return e.uploadAndAppend(ctx, s, item)
	case queue.KindUpdateRow:
		return e.updateRow(ctx, s, item, false)
	case queue.KindDelete:
		return e.updateRow(ctx, s, item, true)
	case queue.KindAddListItem:
		return e.addListItem(ctx, item)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown queue item kind %q", item.Kind))
}

// uploadAndAppend uploads the receipt unless an earlier attempt already did,
// records the file id, then writes the row unless it is already there.
func (e *Engine) uploadAndAppend(ctx context.Context, s *session, item *queue.Item) error {
	var exp expense.Expense
	if err := item.DecodePayload(&exp); err != nil {
		return err
	}
	if err := exp.Validate(); err != nil {
		return err
	}

	m, err := e.sheetMapping(ctx, s)
	if err != nil {
		return err
	}

	if !item.HasRemoteBlob() {
		if len(item.Blob) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "no receipt attached and none uploaded")
		}
		res, err := e.blobs.Upload(ctx, item.Blob, item.BlobContentType, exp.FolderPath(), exp.FileName(item.ID, item.BlobContentType))
		if err != nil {
			return err
		}
		if err := e.queue.RecordBlob(context.WithoutCancel(ctx), item.ID, res.ID, res.ViewLink); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record uploaded receipt")
		}
		item.BlobFileID = res.ID
		item.BlobViewLink = res.ViewLink
		log.Info().Str("item_id", item.ID).Str("file_id", res.ID).Msg("Receipt uploaded")
	} else {
		log.Debug().Str("item_id", item.ID).Str("file_id", item.BlobFileID).Msg("Receipt already uploaded, skipping upload")
	}

	existing, found, err := e.rows.FindRowByKey(ctx, m, item.ID)
	if err != nil {
		return err
	}
	if found {
		log.Info().Str("item_id", item.ID).Int("row", existing.Index).Msg("Row already written, skipping append")
		return nil
	}

	receipt := expense.Receipt{FileID: item.BlobFileID, ViewLink: item.BlobViewLink}
	row, err := e.rows.AppendRecord(ctx, m, exp.Fields(item.ID, receipt, e.now()))
	if err != nil {
		return err
	}
	log.Debug().Str("item_id", item.ID).Int("row", row.Index).Msg("Row appended")
	return nil
}

func (e *Engine) updateRow(ctx context.Context, s *session, item *queue.Item, remove bool) error {
	var change queue.RowChange
	if err := item.DecodePayload(&change); err != nil {
		return err
	}
	id := strings.TrimSpace(change.ExpenseID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "expense id is required")
	}

	fields, err := changedFields(change.Changes, remove)
	if err != nil {
		return err
	}
	fields[columns.UpdatedAt] = e.now().UTC().Format(time.RFC3339)

	m, err := e.sheetMapping(ctx, s)
	if err != nil {
		return err
	}
	_, err = e.rows.UpdateRecord(ctx, m, id, fields)
	return err
}

// changedFields converts a payload's changes to canonical fields. A delete
// only ever sets the status.
func changedFields(changes map[string]string, remove bool) (map[columns.Field]string, error) {
	if remove {
		return map[columns.Field]string{columns.Status: rows.StatusDeleted}, nil
	}

	out := make(map[columns.Field]string, len(changes)+1)
	for name, value := range changes {
		field, ok := columns.ParseField(name)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown field %q", name))
		}
		switch field {
		case columns.ExpenseID, columns.CreatedAt:
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("field %s cannot be changed", field))
		}
		out[field] = value
	}
	if len(out) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no changes to apply")
	}
	return out, nil
}

func (e *Engine) addListItem(ctx context.Context, item *queue.Item) error {
	var entry queue.ListEntry
	if err := item.DecodePayload(&entry); err != nil {
		return err
	}
	_, err := e.lists.AddItem(ctx, entry.List, entry.Value)
	return err
}

// summarize gives a short human description of an item for alerts.
func summarize(item *queue.Item) string {
	switch item.Kind {
	case queue.KindUploadAndAppend:
		var exp expense.Expense
		if item.DecodePayload(&exp) == nil {
			return fmt.Sprintf("%s %s %s", exp.Date, exp.Vendor, exp.Amount.StringFixed(2))
		}
	case queue.KindUpdateRow, queue.KindDelete:
		var change queue.RowChange
		if item.DecodePayload(&change) == nil {
			return change.ExpenseID
		}
	case queue.KindAddListItem:
		var entry queue.ListEntry
		if item.DecodePayload(&entry) == nil {
			return fmt.Sprintf("%s %s", entry.List, entry.Value)
		}
	}
	return ""
}
