package filestore

import (
	"context"
	"fmt"
	"log/slog"
)

func NewFileStore(ctx context.Context, options Options) (store FileStore, err error) {
	switch options.Type {
	case "local":
		store, err = NewLocalFileStore(options.Directory, options.PublicBaseURL)
	case "s3":
		store, err = NewS3FileStore(ctx, options.S3, options.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", options.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", options.Type, err)
	}

	slog.Info("file storage initialized", "type", options.Type)
	return store, nil
}
