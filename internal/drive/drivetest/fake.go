// Package drivetest provides an in-memory drive.Uploader for tests.
package drivetest

import (
	"context"
	"fmt"
	"sync"

	"expense_sync/internal/drive"
)

// Upload records one stored blob.
type Upload struct {
	ID          string
	Data        []byte
	ContentType string
	FolderPath  []string
	Filename    string
}

type Fake struct {
	mu      sync.Mutex
	uploads []Upload

	// FailWith, when set, is returned by Upload instead of storing the blob.
	FailWith error
}

var _ drive.Uploader = (*Fake)(nil)

func New() *Fake {
	return &Fake{}
}

func (f *Fake) Upload(ctx context.Context, data []byte, contentType string, folderPath []string, filename string) (drive.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return drive.UploadResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailWith != nil {
		return drive.UploadResult{}, f.FailWith
	}

	id := fmt.Sprintf("file-%d", len(f.uploads)+1)
	f.uploads = append(f.uploads, Upload{
		ID:          id,
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		FolderPath:  append([]string(nil), folderPath...),
		Filename:    filename,
	})
	return drive.UploadResult{
		ID:       id,
		ViewLink: fmt.Sprintf("https://drive.google.com/file/d/%s/view", id),
	}, nil
}

func (f *Fake) Fail(err error) {
	f.mu.Lock()
	f.FailWith = err
	f.mu.Unlock()
}

func (f *Fake) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}
