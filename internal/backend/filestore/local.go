package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFileStore keeps uploads in a directory on disk. Uploads in progress are written to a
// sibling staging directory so they never appear in the served directory before they are complete.
type LocalFileStore struct {
	directory     string
	stagingDir    string
	publicBaseURL string
}

func NewLocalFileStore(directory, publicBaseURL string) (*LocalFileStore, error) {
	if directory == "" {
		return nil, fmt.Errorf("upload directory must not be empty")
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", directory, err)
	}
	stagingDir := stagingDirectory(directory)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", stagingDir, err)
	}

	return &LocalFileStore{
		directory:     directory,
		stagingDir:    stagingDir,
		publicBaseURL: publicBaseURL,
	}, nil
}

// stagingDirectory sits next to the upload directory, on the same filesystem for the final rename.
func stagingDirectory(directory string) string {
	clean := filepath.Clean(directory)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+"-staging")
}

func (s *LocalFileStore) Save(ctx context.Context, originalFilename string, content io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := generateFilename(originalFilename)

	// Write to a temp file first so a failed upload never shows up under its final name.
	tmp, err := os.CreateTemp(s.stagingDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp file: %w", ErrStorageWrite, err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, content)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, filepath.Join(s.directory, name))
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: failed to write %s: %w", ErrStorageWrite, name, err)
	}

	return name, nil
}

func (s *LocalFileStore) Delete(ctx context.Context, storedFilename string) error {
	if !isValidStoredName(storedFilename) {
		return fmt.Errorf("invalid stored filename %q", storedFilename)
	}

	err := os.Remove(filepath.Join(s.directory, storedFilename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", storedFilename, err)
	}
	return nil
}

func (s *LocalFileStore) ResolveURL(storedFilename string) string {
	return joinURL(s.publicBaseURL, storedFilename)
}

func (s *LocalFileStore) Close() error {
	return nil
}
