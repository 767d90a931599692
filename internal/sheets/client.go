package sheets

import (
	"context"
	"fmt"

	pkgerrors "expense_sync/internal/errors"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	valueInputUserEntered = "USER_ENTERED"
	renderFormatted       = "FORMATTED_VALUE"
)

// Tabular is the remote table surface the rest of the module writes against.
// Implementations return classified errors and never retry.
type Tabular interface {
	ReadRange(ctx context.Context, r RangeSpec) ([][]string, error)
	WriteRange(ctx context.Context, r RangeSpec, rows [][]string) error
	WriteRanges(ctx context.Context, blocks []RangeValues) error
	AppendRange(ctx context.Context, r RangeSpec, rows [][]string) error
}

type Client struct {
	service       *sheets.Service
	spreadsheetID string
}

var _ Tabular = (*Client)(nil)

func NewClient(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	if spreadsheetID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "spreadsheet id is required")
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{
		service:       service,
		spreadsheetID: spreadsheetID,
	}, nil
}

func (c *Client) SpreadsheetID() string {
	return c.spreadsheetID
}

func (c *Client) ReadRange(ctx context.Context, r RangeSpec) ([][]string, error) {
	return c.read(ctx, r, renderFormatted)
}

func (c *Client) read(ctx context.Context, r RangeSpec, render string) ([][]string, error) {
	resp, err := c.service.Spreadsheets.Values.Get(c.spreadsheetID, r.A1()).
		ValueRenderOption(render).
		Context(ctx).
		Do()
	if err != nil {
		return nil, pkgerrors.WrapRemote(err, fmt.Sprintf("read %s", r.A1()))
	}

	log.Debug().
		Str("range", r.A1()).
		Int("rows", len(resp.Values)).
		Msg("Read sheet range")

	return toStrings(resp.Values), nil
}

func (c *Client) WriteRange(ctx context.Context, r RangeSpec, rows [][]string) error {
	valueRange := &sheets.ValueRange{
		Values: toInterfaces(rows),
	}

	_, err := c.service.Spreadsheets.Values.Update(c.spreadsheetID, r.A1(), valueRange).
		ValueInputOption(valueInputUserEntered).
		Context(ctx).
		Do()
	if err != nil {
		return pkgerrors.WrapRemote(err, fmt.Sprintf("write %s", r.A1()))
	}
	return nil
}

// WriteRanges writes several blocks in one request. Cells outside the
// blocks are not sent, so they keep their stored value and type.
func (c *Client) WriteRanges(ctx context.Context, blocks []RangeValues) error {
	if len(blocks) == 0 {
		return nil
	}

	data := make([]*sheets.ValueRange, 0, len(blocks))
	for _, b := range blocks {
		data = append(data, &sheets.ValueRange{Range: b.Range.A1(), Values: toInterfaces(b.Rows)})
	}
	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: valueInputUserEntered,
		Data:             data,
	}

	_, err := c.service.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).
		Context(ctx).
		Do()
	if err != nil {
		return pkgerrors.WrapRemote(err, fmt.Sprintf("write %d ranges starting %s", len(blocks), blocks[0].Range.A1()))
	}

	log.Debug().
		Int("ranges", len(blocks)).
		Str("first", blocks[0].Range.A1()).
		Msg("Wrote sheet ranges")
	return nil
}

// AppendRange writes rows after the last filled row of the table found in r.
// Existing rows are overwritten rather than shifted so neighbouring columns
// keep their alignment.
func (c *Client) AppendRange(ctx context.Context, r RangeSpec, rows [][]string) error {
	valueRange := &sheets.ValueRange{
		Values: toInterfaces(rows),
	}

	_, err := c.service.Spreadsheets.Values.Append(c.spreadsheetID, r.A1(), valueRange).
		ValueInputOption(valueInputUserEntered).
		InsertDataOption("OVERWRITE").
		Context(ctx).
		Do()
	if err != nil {
		return pkgerrors.WrapRemote(err, fmt.Sprintf("append %s", r.A1()))
	}
	return nil
}

// SheetTitles lists the tab names of the spreadsheet.
func (c *Client) SheetTitles(ctx context.Context) ([]string, error) {
	resp, err := c.service.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, pkgerrors.WrapRemote(err, "read spreadsheet metadata")
	}

	titles := make([]string, 0, len(resp.Sheets))
	for _, sheet := range resp.Sheets {
		if sheet.Properties != nil {
			titles = append(titles, sheet.Properties.Title)
		}
	}
	return titles, nil
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprintf("%v", v)
			}
		}
		out[i] = cells
	}
	return out
}

func toInterfaces(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}
