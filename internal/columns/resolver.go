package columns

import (
	"context"
	"fmt"
	"sync"

	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/sheets"

	"github.com/rs/zerolog/log"
)

// Resolver caches the mapping of one sheet for a session. Invalidate starts a
// new session.
type Resolver struct {
	store sheets.Tabular
	sheet string

	mu     sync.Mutex
	cached *Mapping
}

func NewResolver(store sheets.Tabular, sheet string) *Resolver {
	return &Resolver{store: store, sheet: sheet}
}

func (r *Resolver) Sheet() string {
	return r.sheet
}

func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// Resolve returns the session mapping, reading the header on first use.
func (r *Resolver) Resolve(ctx context.Context) (Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}
	m, err := r.readMapping(ctx)
	if err != nil {
		return Mapping{}, err
	}
	r.cached = &m
	return m, nil
}

// EnsureMetadataColumns appends any missing metadata headers to the right of
// the current header and re-resolves. Matching is by header name so a second
// call, or a racing client that already added them, adds nothing.
func (r *Resolver) EnsureMetadataColumns(ctx context.Context) (Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.readMapping(ctx)
	if err != nil {
		return Mapping{}, err
	}

	missing := m.Missing(MetadataFields)
	if len(missing) == 0 {
		r.cached = &m
		return m, nil
	}

	labels := make([]string, len(missing))
	for i, field := range missing {
		labels[i] = string(field)
	}
	start := m.Width()
	target := sheets.RangeSpec{
		Sheet:    r.sheet,
		StartCol: start,
		StartRow: 1,
		EndCol:   start + len(labels) - 1,
		EndRow:   1,
	}

	log.Info().
		Str("sheet", r.sheet).
		Str("range", target.A1()).
		Strs("headers", labels).
		Msg("Provisioning metadata columns")

	if err := r.store.WriteRange(ctx, target, [][]string{labels}); err != nil {
		return Mapping{}, err
	}

	m, err = r.readMapping(ctx)
	if err != nil {
		return Mapping{}, err
	}
	if still := m.Missing(MetadataFields); len(still) > 0 {
		return Mapping{}, pkgerrors.New(pkgerrors.CodeSchema,
			fmt.Sprintf("metadata columns still missing after provisioning: %v", still))
	}
	r.cached = &m
	return m, nil
}

func (r *Resolver) readMapping(ctx context.Context) (Mapping, error) {
	rows, err := r.store.ReadRange(ctx, sheets.HeaderRange(r.sheet))
	if err != nil {
		return Mapping{}, err
	}
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	m := Resolve(header)

	log.Debug().
		Str("sheet", r.sheet).
		Int("header_cells", len(header)).
		Int("mapped_fields", m.Len()).
		Msg("Resolved column mapping")

	return m, nil
}
