package drive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	pkgerrors "expense_sync/internal/errors"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// UploadResult identifies an uploaded blob.
type UploadResult struct {
	ID       string
	ViewLink string
}

// Uploader stores a blob under a folder path relative to a root folder.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string, folderPath []string, filename string) (UploadResult, error)
}

type Client struct {
	service      *drive.Service
	rootFolderID string

	mu      sync.Mutex
	folders map[string]string
}

var _ Uploader = (*Client)(nil)

func NewClient(ctx context.Context, rootFolderID string, opts ...option.ClientOption) (*Client, error) {
	if rootFolderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "drive root folder id is required")
	}
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Client{
		service:      service,
		rootFolderID: rootFolderID,
		folders:      make(map[string]string),
	}, nil
}

// Upload creates any missing folders of folderPath under the root folder and
// stores data there as filename.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string, folderPath []string, filename string) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, pkgerrors.New(pkgerrors.CodeValidation, "refusing to upload an empty blob")
	}

	parentID, err := c.EnsurePath(ctx, folderPath)
	if err != nil {
		return UploadResult{}, err
	}

	file := &drive.File{
		Name:     filename,
		Parents:  []string{parentID},
		MimeType: contentType,
	}
	created, err := c.service.Files.Create(file).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Fields("id", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return UploadResult{}, pkgerrors.WrapRemote(err, fmt.Sprintf("upload %s", filename))
	}

	log.Info().
		Str("file_id", created.Id).
		Str("name", filename).
		Strs("folder", folderPath).
		Int("bytes", len(data)).
		Msg("Uploaded receipt")

	return UploadResult{ID: created.Id, ViewLink: created.WebViewLink}, nil
}

// EnsurePath walks folderPath from the root folder, creating folders as
// needed, and returns the id of the last one.
func (c *Client) EnsurePath(ctx context.Context, folderPath []string) (string, error) {
	parentID := c.rootFolderID
	for _, name := range folderPath {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, err := c.EnsureFolder(ctx, parentID, name)
		if err != nil {
			return "", err
		}
		parentID = id
	}
	return parentID, nil
}

// EnsureFolder returns the id of the folder called name inside parentID,
// creating it when absent. Results are cached by parent and name.
func (c *Client) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	key := parentID + "/" + name

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.folders[key]; ok {
		return id, nil
	}

	query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), folderMimeType)
	list, err := c.service.Files.List().
		Q(query).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", pkgerrors.WrapRemote(err, fmt.Sprintf("find folder %s", name))
	}
	if len(list.Files) > 0 {
		c.folders[key] = list.Files[0].Id
		return list.Files[0].Id, nil
	}

	folder, err := c.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", pkgerrors.WrapRemote(err, fmt.Sprintf("create folder %s", name))
	}

	log.Debug().
		Str("folder_id", folder.Id).
		Str("name", name).
		Str("parent_id", parentID).
		Msg("Created drive folder")

	c.folders[key] = folder.Id
	return folder.Id, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
