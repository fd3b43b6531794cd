package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jo-hoe/gosubmissions/internal/backend/cache"
	"github.com/jo-hoe/gosubmissions/internal/backend/database"
	"github.com/jo-hoe/gosubmissions/internal/backend/filestore"
	"golang.org/x/sync/errgroup"
)

const listCacheKey = "submissions:list"

// Upload is one file of a submit request.
type Upload struct {
	Filename string
	Content  io.Reader
}

// SubmissionView is a submission with its stored filenames resolved to public URLs.
type SubmissionView struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Handle string   `json:"handle"`
	Images []string `json:"images"`
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	fileStore       filestore.FileStore
	listCache       cache.Cache
}

// NewCoreService opens the database, file store and cache described by config.
// Close releases them again.
func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}

	fileStore, err := filestore.NewFileStore(ctx, filestore.Options{
		Type:          config.Storage.Type,
		Directory:     config.Storage.Directory,
		PublicBaseURL: config.Storage.PublicBaseURL,
		S3: filestore.S3Options{
			Endpoint:  config.Storage.S3.Endpoint,
			Region:    config.Storage.S3.Region,
			Bucket:    config.Storage.S3.Bucket,
			AccessKey: config.Storage.S3.AccessKey,
			SecretKey: config.Storage.S3.SecretKey,
		},
	})
	if err != nil {
		_ = databaseService.Close()
		return nil, err
	}

	listCache, err := getCache(ctx, config.Cache)
	if err != nil {
		_ = fileStore.Close()
		_ = databaseService.Close()
		return nil, err
	}

	return newCoreService(config, databaseService, fileStore, listCache), nil
}

func newCoreService(config *ServiceConfig, databaseService database.DatabaseService, fileStore filestore.FileStore, listCache cache.Cache) *CoreService {
	return &CoreService{
		config:          config,
		databaseService: databaseService,
		fileStore:       fileStore,
		listCache:       listCache,
	}
}

// Submit stores every upload and then records the submission. Files saved for a request
// whose metadata could not be written are removed again.
func (service *CoreService) Submit(ctx context.Context, name, handle string, uploads []Upload) (int64, error) {
	if len(uploads) > service.config.MaxFilesPerSubmission {
		return 0, fmt.Errorf("%w: received %d, at most %d allowed", ErrTooManyFiles, len(uploads), service.config.MaxFilesPerSubmission)
	}

	stored, err := service.saveUploads(ctx, uploads)
	if err != nil {
		return 0, err
	}

	id, err := service.databaseService.CreateSubmission(ctx, name, handle, stored)
	if err != nil {
		slog.Error("failed to record submission, removing saved files", "error", err, "files", stored)
		service.removeFiles(context.WithoutCancel(ctx), stored)
		return 0, err
	}

	service.invalidateList(ctx)
	slog.Info("submission created", "id", id, "images", len(stored))
	return id, nil
}

// List returns all submissions in storage order with image URLs resolved.
func (service *CoreService) List(ctx context.Context) ([]SubmissionView, error) {
	var cached []SubmissionView
	err := service.listCache.Get(ctx, listCacheKey, &cached)
	if err == nil && cached != nil {
		return cached, nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("submission list cache lookup failed", "error", err)
	}

	submissions, err := service.databaseService.GetAllSubmissions(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]SubmissionView, 0, len(submissions))
	for _, submission := range submissions {
		images := make([]string, 0, len(submission.Images))
		for _, filename := range submission.Images {
			images = append(images, service.fileStore.ResolveURL(filename))
		}
		views = append(views, SubmissionView{
			ID:     submission.ID,
			Name:   submission.Name,
			Handle: submission.Handle,
			Images: images,
		})
	}

	if err := service.listCache.Set(ctx, listCacheKey, views, service.config.Cache.TTL); err != nil {
		slog.Warn("failed to cache submission list", "error", err)
	}
	return views, nil
}

// Delete removes the files of a submission, each independently and best-effort, and then
// its metadata. When the metadata delete fails the files stay removed.
// Once the submission is found, a canceled ctx no longer interrupts the removal.
func (service *CoreService) Delete(ctx context.Context, id int64) error {
	submission, err := service.databaseService.GetSubmissionByID(ctx, id)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	slog.Info("deleting submission", "id", id, "images", submission.Images)
	service.removeFiles(ctx, submission.Images)

	err = service.databaseService.DeleteSubmission(ctx, id)
	service.invalidateList(ctx)
	if err != nil {
		return err
	}

	slog.Info("deleted submission", "id", id)
	return nil
}

func (service *CoreService) Close() error {
	return errors.Join(
		service.listCache.Close(),
		service.fileStore.Close(),
		service.databaseService.Close(),
	)
}

// saveUploads writes all uploads concurrently. The returned names keep the request order.
// On failure every file that did get written is removed before returning.
func (service *CoreService) saveUploads(ctx context.Context, uploads []Upload) ([]string, error) {
	stored := make([]string, len(uploads))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, upload := range uploads {
		i, upload := i, upload
		group.Go(func() error {
			name, err := service.fileStore.Save(groupCtx, upload.Filename, upload.Content)
			if err != nil {
				return fmt.Errorf("failed to save %q: %w", upload.Filename, err)
			}
			stored[i] = name
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		saved := make([]string, 0, len(stored))
		for _, name := range stored {
			if name != "" {
				saved = append(saved, name)
			}
		}
		slog.Error("failed to save uploads", "error", err, "cleanup", saved)
		service.removeFiles(context.WithoutCancel(ctx), saved)
		return nil, err
	}
	return stored, nil
}

// removeFiles deletes every file independently; one failure never stops the others.
func (service *CoreService) removeFiles(ctx context.Context, names []string) {
	for _, name := range names {
		if err := service.fileStore.Delete(ctx, name); err != nil {
			slog.Warn("failed to delete stored file", "file", name, "error", err)
			continue
		}
		slog.Debug("deleted stored file", "file", name)
	}
}

func (service *CoreService) invalidateList(ctx context.Context) {
	if err := service.listCache.Delete(context.WithoutCancel(ctx), listCacheKey); err != nil {
		slog.Warn("failed to invalidate submission list cache", "error", err)
	}
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func getCache(ctx context.Context, config Cache) (cache.Cache, error) {
	if config.RedisAddr == "" {
		return cache.NoopCache{}, nil
	}

	redisCache, err := cache.ConnectRedis(ctx, config.RedisAddr, config.RedisPassword, config.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("submission list cache enabled", "addr", config.RedisAddr, "ttl", config.TTL)
	return redisCache, nil
}
