package sheets

import (
	"fmt"
	"strconv"
	"strings"
)

// HeaderLastCol is the widest column read when loading a header row (ZZ).
const HeaderLastCol = 701

// RangeSpec addresses a rectangle of cells. Columns are 0-based, rows are
// 1-based and EndRow 0 leaves the range open towards the bottom of the sheet.
type RangeSpec struct {
	Sheet    string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// HeaderRange is row 1 from A to ZZ.
func HeaderRange(sheet string) RangeSpec {
	return RangeSpec{Sheet: sheet, StartCol: 0, StartRow: 1, EndCol: HeaderLastCol, EndRow: 1}
}

// ColumnRange is a single column from fromRow to the bottom of the sheet.
func ColumnRange(sheet string, col, fromRow int) RangeSpec {
	return RangeSpec{Sheet: sheet, StartCol: col, StartRow: fromRow, EndCol: col, EndRow: 0}
}

// RowRange is one row from column A to lastCol.
func RowRange(sheet string, row, lastCol int) RangeSpec {
	return RangeSpec{Sheet: sheet, StartCol: 0, StartRow: row, EndCol: lastCol, EndRow: row}
}

// CellRun is columns fromCol..toCol of one row.
func CellRun(sheet string, row, fromCol, toCol int) RangeSpec {
	return RangeSpec{Sheet: sheet, StartCol: fromCol, StartRow: row, EndCol: toCol, EndRow: row}
}

// RangeValues is one block of a batched write.
type RangeValues struct {
	Range RangeSpec
	Rows  [][]string
}

// CellRange is a single cell.
func CellRange(sheet string, col, row int) RangeSpec {
	return RangeSpec{Sheet: sheet, StartCol: col, StartRow: row, EndCol: col, EndRow: row}
}

// A1 renders the range in A1 notation with a quoted sheet name, e.g.
// 'Transactions (1065)'!A2:A.
func (r RangeSpec) A1() string {
	start := ColumnLetter(r.StartCol) + strconv.Itoa(r.StartRow)
	end := ColumnLetter(r.EndCol)
	if r.EndRow > 0 {
		end += strconv.Itoa(r.EndRow)
	}
	cells := start + ":" + end
	if r.EndRow == r.StartRow && r.EndCol == r.StartCol {
		cells = start
	}
	if r.Sheet == "" {
		return cells
	}
	return QuoteSheet(r.Sheet) + "!" + cells
}

func (r RangeSpec) String() string {
	return r.A1()
}

// QuoteSheet wraps a sheet name in single quotes, doubling embedded quotes.
func QuoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// ColumnLetter converts a 0-based column index to its letter name using
// bijective base-26: 0 is A, 25 is Z, 26 is AA, 701 is ZZ, 702 is AAA.
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	var buf []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		buf = append(buf, byte('A'+(n-1)%26))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// ColumnIndex is the inverse of ColumnLetter.
func ColumnIndex(letters string) (int, error) {
	letters = strings.ToUpper(strings.TrimSpace(letters))
	if letters == "" {
		return 0, fmt.Errorf("empty column name")
	}
	n := 0
	for _, ch := range letters {
		if ch < 'A' || ch > 'Z' {
			return 0, fmt.Errorf("invalid column name %q", letters)
		}
		n = n*26 + int(ch-'A'+1)
	}
	return n - 1, nil
}

// Cell returns row[index] as a string, or "" when the row is too short.
func Cell(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return row[index]
}
