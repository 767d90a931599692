package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	pkgerrors "expense_sync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeDrive struct {
	mu          sync.Mutex
	existing    map[string]string
	lists       int
	folderMakes []string
	uploadBody  string
	uploads     int
	status      int
}

func (f *fakeDrive) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"denied"}}`, f.status)
		return
	}

	body, _ := io.ReadAll(r.Body)
	switch {
	case r.Method == http.MethodGet:
		f.lists++
		q := r.URL.Query().Get("q")
		for name, id := range f.existing {
			if strings.Contains(q, "name = '"+name+"'") {
				_, _ = fmt.Fprintf(w, `{"files":[{"id":%q,"name":%q}]}`, id, name)
				return
			}
		}
		_, _ = io.WriteString(w, `{"files":[]}`)
	case r.URL.Query().Get("uploadType") != "":
		f.uploads++
		f.uploadBody = string(body)
		_, _ = io.WriteString(w, `{"id":"file-1","webViewLink":"https://drive.google.com/file/d/file-1/view"}`)
	default:
		var meta struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		}
		_ = json.Unmarshal(body, &meta)
		f.folderMakes = append(f.folderMakes, meta.Parents[0]+"/"+meta.Name)
		_, _ = fmt.Fprintf(w, `{"id":"folder-%s"}`, meta.Name)
	}
}

func newFakeClient(t *testing.T, fake *fakeDrive) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), "root-folder",
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return client
}

func TestUploadCreatesFolderPath(t *testing.T) {
	fake := &fakeDrive{}
	client := newFakeClient(t, fake)

	res, err := client.Upload(context.Background(), []byte("%PDF-1.7"), "application/pdf", []string{"Sam", "2024"}, "receipt.pdf")
	require.NoError(t, err)
	assert.Equal(t, "file-1", res.ID)
	assert.Equal(t, "https://drive.google.com/file/d/file-1/view", res.ViewLink)

	assert.Equal(t, []string{"root-folder/Sam", "folder-Sam/2024"}, fake.folderMakes)
	assert.Equal(t, 1, fake.uploads)
	assert.Contains(t, fake.uploadBody, "folder-2024")
	assert.Contains(t, fake.uploadBody, "receipt.pdf")
}

func TestFoldersAreCached(t *testing.T) {
	fake := &fakeDrive{}
	client := newFakeClient(t, fake)
	ctx := context.Background()

	_, err := client.Upload(ctx, []byte("a"), "image/jpeg", []string{"Sam", "2024"}, "a.jpg")
	require.NoError(t, err)
	listsAfterFirst := fake.lists

	_, err = client.Upload(ctx, []byte("b"), "image/jpeg", []string{"Sam", "2024"}, "b.jpg")
	require.NoError(t, err)
	assert.Equal(t, listsAfterFirst, fake.lists)
	assert.Len(t, fake.folderMakes, 2)
}

func TestEnsureFolderReusesExisting(t *testing.T) {
	fake := &fakeDrive{existing: map[string]string{"Sam": "existing-sam"}}
	client := newFakeClient(t, fake)

	id, err := client.EnsurePath(context.Background(), []string{"Sam", " ", "2025"})
	require.NoError(t, err)
	assert.Equal(t, "folder-2025", id)
	assert.Equal(t, []string{"existing-sam/2025"}, fake.folderMakes)
}

func TestUploadErrorsAreClassified(t *testing.T) {
	fake := &fakeDrive{status: http.StatusForbidden}
	client := newFakeClient(t, fake)

	_, err := client.Upload(context.Background(), []byte("x"), "application/pdf", []string{"Sam"}, "x.pdf")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
}

func TestUploadRejectsEmptyBlob(t *testing.T) {
	client := newFakeClient(t, &fakeDrive{})

	_, err := client.Upload(context.Background(), nil, "application/pdf", nil, "x.pdf")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `O\'Brien \\ Co`, escapeQuery(`O'Brien \ Co`))
}
