package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "expense_sync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
		requests = append(requests, rec)
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), "sheet-123",
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return client, &requests
}

func TestNewClientRequiresSpreadsheetID(t *testing.T) {
	_, err := NewClient(context.Background(), "", option.WithoutAuthentication())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestReadRangeConvertsCells(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"range":"'Transactions (1065)'!A1:ZZ1","majorDimension":"ROWS","values":[["Date","Amount",12.5]]}`)
	})

	rows, err := client.ReadRange(context.Background(), HeaderRange("Transactions (1065)"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Date", "Amount", "12.5"}}, rows)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Contains(t, req.Path, "/v4/spreadsheets/sheet-123/values/")
	assert.Contains(t, req.Query, "valueRenderOption=FORMATTED_VALUE")
}

func TestWriteRangeSendsUserEntered(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"updatedCells":2}`)
	})

	err := client.WriteRange(context.Background(), RowRange("Lists", 3, 1), [][]string{{"Home Depot", "Unit 4"}})
	require.NoError(t, err)

	req := (*requests)[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Contains(t, req.Query, "valueInputOption=USER_ENTERED")
	assert.Equal(t, []any{[]any{"Home Depot", "Unit 4"}}, req.Body["values"])
}

func TestAppendRangeOverwritesBelowTable(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"updates":{"updatedRows":1}}`)
	})

	err := client.AppendRange(context.Background(), ColumnRange("Lists", 0, 2), [][]string{{"Lowe's"}})
	require.NoError(t, err)

	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.True(t, strings.HasSuffix(req.Path, ":append"), req.Path)
	assert.Contains(t, req.Query, "insertDataOption=OVERWRITE")
}

func TestSheetTitles(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"sheets":[{"properties":{"title":"Transactions (1065)"}},{"properties":{"title":"Lists"}}]}`)
	})

	titles, err := client.SheetTitles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Transactions (1065)", "Lists"}, titles)
}

func TestRemoteErrorsAreClassified(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   pkgerrors.Code
	}{
		{http.StatusUnauthorized, `{"error":{"code":401,"message":"Request had invalid authentication credentials."}}`, pkgerrors.CodeAuth},
		{http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found."}}`, pkgerrors.CodeNotFound},
		{http.StatusBadRequest, `{"error":{"code":400,"message":"Unable to parse range: 'Nope'!A1:ZZ1"}}`, pkgerrors.CodeSchema},
		{http.StatusServiceUnavailable, `{"error":{"code":503,"message":"The service is currently unavailable."}}`, pkgerrors.CodeTransient},
	}

	for _, tt := range tests {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, tt.body)
		})
		_, err := client.ReadRange(context.Background(), HeaderRange("Nope"))
		require.Error(t, err)
		assert.Equal(t, tt.want, pkgerrors.CodeOf(err), "status %d", tt.status)
	}
}

func TestWriteRangesBatchesBlocks(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"totalUpdatedCells":3}`)
	})

	err := client.WriteRanges(context.Background(), []RangeValues{
		{Range: CellRun("Transactions (1065)", 5, 0, 1), Rows: [][]string{{"2024-02-14", "Acme"}}},
		{Range: CellRun("Transactions (1065)", 5, 4, 4), Rows: [][]string{{"id-1"}}},
	})
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.True(t, strings.HasSuffix(req.Path, "/values:batchUpdate"), req.Path)
	assert.Equal(t, "USER_ENTERED", req.Body["valueInputOption"])

	data, ok := req.Body["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 2)
	assert.Equal(t, "'Transactions (1065)'!A5:B5", data[0].(map[string]any)["range"])
	assert.Equal(t, "'Transactions (1065)'!E5", data[1].(map[string]any)["range"])

	require.NoError(t, client.WriteRanges(context.Background(), nil))
	assert.Len(t, *requests, 1)
}
