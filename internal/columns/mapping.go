package columns

import (
	"fmt"
	"strings"

	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/sheets"
)

type Field string

const (
	Date          Field = "Date"
	Vendor        Field = "Vendor"
	Description   Field = "Description"
	Amount        Field = "Amount"
	Category      Field = "Category"
	PropertyID    Field = "PropertyId"
	PaidVia       Field = "PaidVia"
	Is1099        Field = "Is1099"
	Class         Field = "Class"
	Notes         Field = "Notes"
	ReceiptLink   Field = "ReceiptLink"
	ExpenseID     Field = "ExpenseId"
	Member        Field = "Member"
	ReceiptFileID Field = "ReceiptFileId"
	Status        Field = "Status"
	CreatedAt     Field = "CreatedAt"
	UpdatedAt     Field = "UpdatedAt"
)

// AllFields is the canonical field order.
var AllFields = []Field{
	Date, Vendor, Description, Amount, Category, PropertyID, PaidVia, Is1099, Class, Notes, ReceiptLink,
	ExpenseID, Member, ReceiptFileID, Status, CreatedAt, UpdatedAt,
}

// ParseField returns the canonical field called name, ignoring case.
func ParseField(name string) (Field, bool) {
	for _, f := range AllFields {
		if strings.EqualFold(string(f), strings.TrimSpace(name)) {
			return f, true
		}
	}
	return "", false
}

// MetadataFields are provisioned by the client when the header lacks them,
// in this order.
var MetadataFields = []Field{ExpenseID, Member, ReceiptFileID, Status, CreatedAt, UpdatedAt}

type aliases struct {
	exact     []string
	substring []string
}

var aliasTable = map[Field]aliases{
	Date:          {exact: []string{"date", "transaction date", "expense date"}},
	Vendor:        {exact: []string{"vendor", "payee", "merchant"}},
	Description:   {exact: []string{"description", "memo", "details"}},
	Amount:        {exact: []string{"amount", "total", "cost"}},
	Category:      {exact: []string{"category", "expense category"}},
	PropertyID:    {exact: []string{"property", "property id", "propertyid", "property address"}},
	PaidVia:       {exact: []string{"paid via", "payment method"}, substring: []string{"paid via"}},
	Is1099:        {exact: []string{"1099", "is 1099", "1099?"}, substring: []string{"1099"}},
	Class:         {exact: []string{"class"}},
	Notes:         {exact: []string{"notes", "note"}},
	ReceiptLink:   {exact: []string{"receipt link", "receipt", "receipt url"}},
	ExpenseID:     {exact: []string{"expenseid", "expense id"}},
	Member:        {exact: []string{"member", "submitted by"}},
	ReceiptFileID: {exact: []string{"receiptfileid", "receipt file id"}},
	Status:        {exact: []string{"status"}},
	CreatedAt:     {exact: []string{"createdat", "created at", "created"}},
	UpdatedAt:     {exact: []string{"updatedat", "updated at", "updated"}},
}

// Mapping locates canonical fields in a header row. The zero value maps
// nothing.
type Mapping struct {
	positions map[Field]int
	width     int
}

// Resolve maps header cells to canonical fields. Exact aliases are matched
// before substring aliases; the first matching cell wins for a field and a
// cell serves at most one field.
func Resolve(header []string) Mapping {
	m := Mapping{positions: make(map[Field]int)}
	normalized := make([]string, len(header))
	for i, cell := range header {
		normalized[i] = normalize(cell)
		if normalized[i] != "" {
			m.width = i + 1
		}
	}

	claimed := make(map[int]bool)
	match := func(matches func(cell string, a aliases) bool) {
		for i, cell := range normalized {
			if cell == "" || claimed[i] {
				continue
			}
			for _, field := range AllFields {
				if _, ok := m.positions[field]; ok {
					continue
				}
				if matches(cell, aliasTable[field]) {
					m.positions[field] = i
					claimed[i] = true
					break
				}
			}
		}
	}

	match(func(cell string, a aliases) bool {
		for _, alias := range a.exact {
			if cell == alias {
				return true
			}
		}
		return false
	})
	match(func(cell string, a aliases) bool {
		for _, alias := range a.substring {
			if strings.Contains(cell, alias) {
				return true
			}
		}
		return false
	})

	return m
}

func normalize(cell string) string {
	return strings.ToLower(strings.TrimSpace(cell))
}

// Index returns the 0-based column of field.
func (m Mapping) Index(field Field) (int, bool) {
	idx, ok := m.positions[field]
	return idx, ok
}

func (m Mapping) Has(field Field) bool {
	_, ok := m.positions[field]
	return ok
}

// Require is Index for fields an operation cannot proceed without.
func (m Mapping) Require(field Field) (int, error) {
	idx, ok := m.positions[field]
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeSchema, fmt.Sprintf("no %s column in header", field))
	}
	return idx, nil
}

// Len is the number of mapped fields.
func (m Mapping) Len() int {
	return len(m.positions)
}

// Width is the number of header cells up to the last non-blank one.
func (m Mapping) Width() int {
	return m.width
}

// LastCol is the rightmost column a full row write must cover, -1 for an
// empty header.
func (m Mapping) LastCol() int {
	return m.width - 1
}

// Fields lists mapped fields in canonical order.
func (m Mapping) Fields() []Field {
	var out []Field
	for _, field := range AllFields {
		if m.Has(field) {
			out = append(out, field)
		}
	}
	return out
}

// Missing returns the subset of fields that are not mapped, order kept.
func (m Mapping) Missing(fields []Field) []Field {
	var out []Field
	for _, field := range fields {
		if !m.Has(field) {
			out = append(out, field)
		}
	}
	return out
}

// Column returns the letter name of field's column, "" when unmapped.
func (m Mapping) Column(field Field) string {
	idx, ok := m.Index(field)
	if !ok {
		return ""
	}
	return sheets.ColumnLetter(idx)
}

// Record reads mapped fields out of a row.
func (m Mapping) Record(row []string) map[Field]string {
	out := make(map[Field]string, len(m.positions))
	for field, idx := range m.positions {
		out[field] = sheets.Cell(row, idx)
	}
	return out
}
