package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{
		0:   "A",
		1:   "B",
		25:  "Z",
		26:  "AA",
		27:  "AB",
		51:  "AZ",
		52:  "BA",
		701: "ZZ",
		702: "AAA",
	}
	for index, want := range tests {
		assert.Equal(t, want, ColumnLetter(index), "index %d", index)
	}
	assert.Equal(t, "", ColumnLetter(-1))
}

func TestColumnIndexRoundTrip(t *testing.T) {
	for i := 0; i < 2000; i++ {
		got, err := ColumnIndex(ColumnLetter(i))
		require.NoError(t, err)
		require.Equal(t, i, got)
	}

	got, err := ColumnIndex(" zz ")
	require.NoError(t, err)
	assert.Equal(t, 701, got)

	_, err = ColumnIndex("A1")
	assert.Error(t, err)
	_, err = ColumnIndex("")
	assert.Error(t, err)
}

func TestRangeA1(t *testing.T) {
	tests := []struct {
		name string
		r    RangeSpec
		want string
	}{
		{"open column", ColumnRange("Transactions (1065)", 0, 2), "'Transactions (1065)'!A2:A"},
		{"header", HeaderRange("Transactions (1065)"), "'Transactions (1065)'!A1:ZZ1"},
		{"row", RowRange("Lists", 7, 3), "'Lists'!A7:D7"},
		{"single cell", CellRange("Lists", 1, 4), "'Lists'!B4"},
		{"quote escaped", CellRange("Bob's Sheet", 0, 1), "'Bob''s Sheet'!A1"},
		{"no sheet", RangeSpec{StartCol: 2, StartRow: 1, EndCol: 4, EndRow: 9}, "C1:E9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.A1())
		})
	}
}

func TestCell(t *testing.T) {
	row := []string{"a", "b"}
	assert.Equal(t, "b", Cell(row, 1))
	assert.Equal(t, "", Cell(row, 2))
	assert.Equal(t, "", Cell(row, -1))
	assert.Equal(t, "", Cell(nil, 0))
}
