package rows

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"expense_sync/internal/columns"
	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/sheets"

	"github.com/rs/zerolog/log"
)

const (
	StatusActive  = "Active"
	StatusDeleted = "Deleted"

	// FirstDataRow is the row right below the header.
	FirstDataRow = 2
)

// RemoteRow is a located row together with the mapping used to find it.
type RemoteRow struct {
	Index   int
	Mapping columns.Mapping
}

// Record is one data row read back through a mapping.
type Record struct {
	Row    int
	Values map[columns.Field]string
}

type Allocator struct {
	store sheets.Tabular
	sheet string
}

func NewAllocator(store sheets.Tabular, sheet string) *Allocator {
	return &Allocator{store: store, sheet: sheet}
}

// FindAppendRow scans the Date column from the first data row and returns the
// first blank cell. Gaps left by manual edits are reused before the end of
// the table.
func (a *Allocator) FindAppendRow(ctx context.Context, m columns.Mapping) (int, error) {
	dateCol, err := m.Require(columns.Date)
	if err != nil {
		return 0, err
	}

	cells, err := a.store.ReadRange(ctx, sheets.ColumnRange(a.sheet, dateCol, FirstDataRow))
	if err != nil {
		return 0, err
	}

	for i, row := range cells {
		if strings.TrimSpace(sheets.Cell(row, 0)) == "" {
			return FirstDataRow + i, nil
		}
	}
	return FirstDataRow + len(cells), nil
}

// FindRowByKey returns the first row whose ExpenseId equals id. A sheet
// without an ExpenseId column has no keyed rows.
func (a *Allocator) FindRowByKey(ctx context.Context, m columns.Mapping, id string) (RemoteRow, bool, error) {
	keyCol, ok := m.Index(columns.ExpenseID)
	if !ok || id == "" {
		return RemoteRow{}, false, nil
	}

	cells, err := a.store.ReadRange(ctx, sheets.ColumnRange(a.sheet, keyCol, FirstDataRow))
	if err != nil {
		return RemoteRow{}, false, err
	}

	for i, row := range cells {
		if strings.TrimSpace(sheets.Cell(row, 0)) == id {
			return RemoteRow{Index: FirstDataRow + i, Mapping: m}, true, nil
		}
	}
	return RemoteRow{}, false, nil
}

// AppendRecord writes values into the next free row.
func (a *Allocator) AppendRecord(ctx context.Context, m columns.Mapping, values map[columns.Field]string) (RemoteRow, error) {
	row, err := a.FindAppendRow(ctx, m)
	if err != nil {
		return RemoteRow{}, err
	}
	if err := a.writeMapped(ctx, m, row, values); err != nil {
		return RemoteRow{}, err
	}

	log.Debug().
		Str("sheet", a.sheet).
		Int("row", row).
		Str("expense_id", values[columns.ExpenseID]).
		Msg("Appended record")

	return RemoteRow{Index: row, Mapping: m}, nil
}

// UpdateRecord rewrites the mapped fields in changes on the row keyed by id.
func (a *Allocator) UpdateRecord(ctx context.Context, m columns.Mapping, id string, changes map[columns.Field]string) (RemoteRow, error) {
	target, found, err := a.FindRowByKey(ctx, m, id)
	if err != nil {
		return RemoteRow{}, err
	}
	if !found {
		return RemoteRow{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no row with ExpenseId %s", id))
	}
	if err := a.writeMapped(ctx, m, target.Index, changes); err != nil {
		return RemoteRow{}, err
	}

	log.Debug().
		Str("sheet", a.sheet).
		Int("row", target.Index).
		Str("expense_id", id).
		Int("fields", len(changes)).
		Msg("Updated record")

	return target, nil
}

// writeMapped writes only the cells of the given fields, one block per run
// of adjacent columns, in a single request. Cells outside the mapping are
// never sent, so formulas and text that would re-parse as numbers or dates
// stay exactly as stored.
func (a *Allocator) writeMapped(ctx context.Context, m columns.Mapping, row int, values map[columns.Field]string) error {
	positions := make(map[int]string, len(values))
	for field, value := range values {
		idx, ok := m.Index(field)
		if !ok {
			log.Debug().Str("field", string(field)).Msg("Skipping unmapped field")
			continue
		}
		positions[idx] = value
	}
	if len(positions) == 0 {
		return pkgerrors.New(pkgerrors.CodeSchema, "none of the record fields are mapped")
	}

	return a.store.WriteRanges(ctx, cellRuns(a.sheet, row, positions))
}

// cellRuns groups positions into blocks of consecutive columns, left to right.
func cellRuns(sheet string, row int, positions map[int]string) []sheets.RangeValues {
	cols := slices.Sorted(maps.Keys(positions))

	var blocks []sheets.RangeValues
	for i := 0; i < len(cols); {
		j := i
		for j+1 < len(cols) && cols[j+1] == cols[j]+1 {
			j++
		}
		cells := make([]string, 0, j-i+1)
		for _, col := range cols[i : j+1] {
			cells = append(cells, positions[col])
		}
		blocks = append(blocks, sheets.RangeValues{
			Range: sheets.CellRun(sheet, row, cols[i], cols[j]),
			Rows:  [][]string{cells},
		})
		i = j + 1
	}
	return blocks
}

// ListRecords returns non-deleted rows, newest first. A limit of 0 returns
// everything.
func (a *Allocator) ListRecords(ctx context.Context, m columns.Mapping, limit int) ([]Record, error) {
	if m.LastCol() < 0 {
		return nil, nil
	}

	data, err := a.store.ReadRange(ctx, sheets.RangeSpec{
		Sheet:    a.sheet,
		StartCol: 0,
		StartRow: FirstDataRow,
		EndCol:   m.LastCol(),
	})
	if err != nil {
		return nil, err
	}

	var records []Record
	for i, row := range data {
		values := m.Record(row)
		if isBlank(values) {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(values[columns.Status]), StatusDeleted) {
			continue
		}
		records = append(records, Record{Row: FirstDataRow + i, Values: values})
	}

	sort.SliceStable(records, func(i, j int) bool {
		ci, cj := createdAt(records[i]), createdAt(records[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return records[i].Row > records[j].Row
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func createdAt(r Record) time.Time {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(r.Values[columns.CreatedAt]))
	if err != nil {
		return time.Time{}
	}
	return ts
}

func isBlank(values map[columns.Field]string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
