package lists

import (
	"context"
	"fmt"
	"sort"
	"strings"

	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/queue"
	"expense_sync/internal/sheets"

	"github.com/rs/zerolog/log"
)

const (
	vendorCol   = 0
	propertyCol = 1
	firstRow    = 2

	categoryFirstRow = 2
	categoryLastRow  = 502
	categoryStop     = "annual total"
)

// Lists holds the pick-lists kept on the Lists tab.
type Lists struct {
	Vendors    []string `json:"vendors"`
	Properties []string `json:"properties"`
}

// Service reads and extends the vendor and property lists and the category
// catalog on the summary tab.
type Service struct {
	store        sheets.Tabular
	listsSheet   string
	summarySheet string
}

func New(store sheets.Tabular, listsSheet, summarySheet string) *Service {
	return &Service{store: store, listsSheet: listsSheet, summarySheet: summarySheet}
}

// Load reads both lists in one call. Values are trimmed, deduplicated
// ignoring case and sorted.
func (s *Service) Load(ctx context.Context) (Lists, error) {
	data, err := s.store.ReadRange(ctx, sheets.RangeSpec{
		Sheet:    s.listsSheet,
		StartCol: vendorCol,
		StartRow: firstRow,
		EndCol:   propertyCol,
	})
	if err != nil {
		return Lists{}, err
	}

	var vendors, properties []string
	for _, row := range data {
		vendors = append(vendors, sheets.Cell(row, vendorCol))
		properties = append(properties, sheets.Cell(row, propertyCol))
	}
	return Lists{Vendors: dedupe(vendors), Properties: dedupe(properties)}, nil
}

// AddItem appends value to the list unless an entry already matches it
// ignoring case. It reports whether a cell was written.
func (s *Service) AddItem(ctx context.Context, list queue.ListKind, value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "list value is required")
	}
	col, err := column(list)
	if err != nil {
		return false, err
	}

	target := sheets.ColumnRange(s.listsSheet, col, firstRow)
	existing, err := s.store.ReadRange(ctx, target)
	if err != nil {
		return false, err
	}
	for _, row := range existing {
		if strings.EqualFold(strings.TrimSpace(sheets.Cell(row, 0)), value) {
			log.Debug().Str("list", string(list)).Str("value", value).Msg("List already has value")
			return false, nil
		}
	}

	if err := s.store.AppendRange(ctx, target, [][]string{{value}}); err != nil {
		return false, err
	}
	log.Info().Str("list", string(list)).Str("value", value).Msg("Added list value")
	return true, nil
}

// Categories reads the category names down the summary tab's first column,
// stopping at the first blank cell or the annual total row.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	data, err := s.store.ReadRange(ctx, sheets.RangeSpec{
		Sheet:    s.summarySheet,
		StartCol: 0,
		StartRow: categoryFirstRow,
		EndCol:   0,
		EndRow:   categoryLastRow,
	})
	if err != nil {
		return nil, err
	}

	var out []string
	for _, row := range data {
		name := strings.TrimSpace(sheets.Cell(row, 0))
		if name == "" || strings.EqualFold(name, categoryStop) {
			break
		}
		out = append(out, name)
	}
	return out, nil
}

func column(list queue.ListKind) (int, error) {
	switch list {
	case queue.ListVendors:
		return vendorCol, nil
	case queue.ListProperties:
		return propertyCol, nil
	}
	return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown list %q", list))
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
