// Package sheetstest provides an in-memory sheets.Tabular for tests.
package sheetstest

import (
	"context"
	"strings"
	"sync"

	"expense_sync/internal/sheets"
)

// Call records one operation against the fake.
type Call struct {
	Op    string
	Range string
	Rows  [][]string
}

// Fake stores cells per sheet. Reads trim trailing blank cells and rows the
// way the Sheets API does.
type Fake struct {
	mu     sync.Mutex
	grids  map[string][][]string
	calls  []Call
	FailOn func(op string, r sheets.RangeSpec) error
}

var _ sheets.Tabular = (*Fake)(nil)

func New() *Fake {
	return &Fake{grids: make(map[string][][]string)}
}

// SetRow replaces row (1-based) of sheet with values starting at column A.
func (f *Fake) SetRow(sheet string, row int, values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(sheet, 0, row, [][]string{values}, true)
}

// Row returns a copy of row (1-based), untrimmed.
func (f *Fake) Row(sheet string, row int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	grid := f.grids[sheet]
	if row < 1 || row > len(grid) {
		return nil
	}
	return append([]string(nil), grid[row-1]...)
}

// Cell returns one cell, "" when unset.
func (f *Fake) Cell(sheet string, col, row int) string {
	return sheets.Cell(f.Row(sheet, row), col)
}

// RowCount is the number of rows holding at least one non-blank cell.
func (f *Fake) RowCount(sheet string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, row := range f.grids[sheet] {
		if !blankRow(row) {
			count++
		}
	}
	return count
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CountOps counts recorded calls of the given op.
func (f *Fake) CountOps(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) ReadRange(ctx context.Context, r sheets.RangeSpec) ([][]string, error) {
	return f.read(ctx, "read", r)
}

func (f *Fake) read(ctx context.Context, op string, r sheets.RangeSpec) ([][]string, error) {
	if err := f.begin(ctx, op, r, nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	grid := f.grids[r.Sheet]
	endRow := r.EndRow
	if endRow == 0 || endRow > len(grid) {
		endRow = len(grid)
	}

	var out [][]string
	for rowIdx := r.StartRow; rowIdx <= endRow; rowIdx++ {
		src := grid[rowIdx-1]
		var cells []string
		for col := r.StartCol; col <= r.EndCol && col < len(src); col++ {
			cells = append(cells, src[col])
		}
		out = append(out, trimRow(cells))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *Fake) WriteRange(ctx context.Context, r sheets.RangeSpec, rows [][]string) error {
	if err := f.begin(ctx, "write", r, rows); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(r.Sheet, r.StartCol, r.StartRow, rows, false)
	return nil
}

// WriteRanges records one "write" call per block. A FailOn error for any
// block leaves every block unwritten.
func (f *Fake) WriteRanges(ctx context.Context, blocks []sheets.RangeValues) error {
	for _, b := range blocks {
		if err := f.begin(ctx, "write", b.Range, b.Rows); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range blocks {
		f.put(b.Range.Sheet, b.Range.StartCol, b.Range.StartRow, b.Rows, false)
	}
	return nil
}

// AppendRange writes below the last non-blank row within the range columns.
func (f *Fake) AppendRange(ctx context.Context, r sheets.RangeSpec, rows [][]string) error {
	if err := f.begin(ctx, "append", r, rows); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	last := r.StartRow - 1
	for i, row := range f.grids[r.Sheet] {
		for col := r.StartCol; col <= r.EndCol && col < len(row); col++ {
			if strings.TrimSpace(row[col]) != "" && i+1 > last {
				last = i + 1
			}
		}
	}
	f.put(r.Sheet, r.StartCol, last+1, rows, false)
	return nil
}

func (f *Fake) begin(ctx context.Context, op string, r sheets.RangeSpec, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Range: r.A1(), Rows: rows})
	fail := f.FailOn
	f.mu.Unlock()
	if fail != nil {
		return fail(op, r)
	}
	return nil
}

func (f *Fake) put(sheet string, startCol, startRow int, rows [][]string, replace bool) {
	grid := f.grids[sheet]
	for i, values := range rows {
		rowIdx := startRow - 1 + i
		for len(grid) <= rowIdx {
			grid = append(grid, nil)
		}
		row := grid[rowIdx]
		if replace {
			row = nil
		}
		for len(row) < startCol+len(values) {
			row = append(row, "")
		}
		copy(row[startCol:], values)
		grid[rowIdx] = row
	}
	f.grids[sheet] = grid
}

func trimRow(cells []string) []string {
	end := len(cells)
	for end > 0 && cells[end-1] == "" {
		end--
	}
	return cells[:end]
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
