package filestore

import (
	"context"
	"errors"
	"io"
)

var ErrStorageWrite = errors.New("storage write error")

// FileStore persists uploaded payloads under server generated names.
type FileStore interface {
	// Save writes content under a freshly generated name and returns that name.
	// Failures wrap ErrStorageWrite and leave nothing behind.
	Save(ctx context.Context, originalFilename string, content io.Reader) (string, error)
	// Delete removes the stored file. A file that is already gone is not an error.
	Delete(ctx context.Context, storedFilename string) error
	ResolveURL(storedFilename string) string
	Close() error
}

type Options struct {
	Type          string
	Directory     string
	PublicBaseURL string
	S3            S3Options
}
