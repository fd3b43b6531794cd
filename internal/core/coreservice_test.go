package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jo-hoe/gosubmissions/internal/backend/database"
	"github.com/jo-hoe/gosubmissions/internal/backend/filestore"
)

func newTestConfig(t *testing.T) *ServiceConfig {
	t.Helper()
	cfg := &ServiceConfig{
		Database: Database{
			Type:             "sqlite",
			ConnectionString: ":memory:",
		},
		Storage: Storage{
			Type:          "local",
			Directory:     filepath.Join(t.TempDir(), "uploads"),
			PublicBaseURL: "http://localhost:5000/uploads",
		},
	}
	applyDefaults(cfg)
	return cfg
}

func newTestCoreService(t *testing.T, cfg *ServiceConfig) *CoreService {
	t.Helper()
	svc, err := NewCoreService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func uploads(n int) []Upload {
	result := make([]Upload, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, Upload{
			Filename: fmt.Sprintf("image%d.png", i),
			Content:  strings.NewReader(fmt.Sprintf("content-%d", i)),
		})
	}
	return result
}

func storedFiles(t *testing.T, cfg *ServiceConfig) []string {
	t.Helper()
	entries, err := os.ReadDir(cfg.Storage.Directory)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestSubmitThenList(t *testing.T) {
	cfg := newTestConfig(t)
	svc := newTestCoreService(t, cfg)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "Alice", "@alice", uploads(2))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(views))
	}
	view := views[0]
	if view.ID != 1 || view.Name != "Alice" || view.Handle != "@alice" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.Images) != 2 {
		t.Fatalf("expected 2 image URLs, got %v", view.Images)
	}
	for _, imageURL := range view.Images {
		if !strings.HasPrefix(imageURL, "http://localhost:5000/uploads/") {
			t.Errorf("unexpected image URL %q", imageURL)
		}
		if _, err := os.Stat(filepath.Join(cfg.Storage.Directory, path.Base(imageURL))); err != nil {
			t.Errorf("expected backing file for %q: %v", imageURL, err)
		}
	}
}

func TestSubmitKeepsRequestOrder(t *testing.T) {
	cfg := newTestConfig(t)
	svc := newTestCoreService(t, cfg)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "n", "h", uploads(10)); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	for i, imageURL := range views[0].Images {
		content, err := os.ReadFile(filepath.Join(cfg.Storage.Directory, path.Base(imageURL)))
		if err != nil {
			t.Fatalf("ReadFile error: %v", err)
		}
		if want := fmt.Sprintf("content-%d", i); string(content) != want {
			t.Fatalf("image %d: expected content %q, got %q", i, want, string(content))
		}
	}
}

func TestSubmitWithoutFiles(t *testing.T) {
	cfg := newTestConfig(t)
	svc := newTestCoreService(t, cfg)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "", "", nil); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(views))
	}
	if views[0].Images == nil || len(views[0].Images) != 0 {
		t.Fatalf("expected empty non-nil image list, got %#v", views[0].Images)
	}
}

func TestSubmitTooManyFiles(t *testing.T) {
	cfg := newTestConfig(t)
	svc := newTestCoreService(t, cfg)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "n", "h", uploads(11))
	if !errors.Is(err, ErrTooManyFiles) {
		t.Fatalf("expected ErrTooManyFiles, got %v", err)
	}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no submissions, got %d", len(views))
	}
	if files := storedFiles(t, cfg); len(files) != 0 {
		t.Fatalf("expected no stored files, got %v", files)
	}
}

// flakyDatabase fails selected operations of an otherwise working database.
type flakyDatabase struct {
	database.DatabaseService
	failCreate bool
	failDelete bool
}

func (d *flakyDatabase) CreateSubmission(ctx context.Context, name, handle string, images []string) (int64, error) {
	if d.failCreate {
		return 0, fmt.Errorf("%w: disk I/O error", database.ErrPersistence)
	}
	return d.DatabaseService.CreateSubmission(ctx, name, handle, images)
}

func (d *flakyDatabase) DeleteSubmission(ctx context.Context, id int64) error {
	if d.failDelete {
		return fmt.Errorf("%w: database is locked", database.ErrPersistence)
	}
	return d.DatabaseService.DeleteSubmission(ctx, id)
}

// flakyStore fails saves of selected original names and deletes of selected stored names.
type flakyStore struct {
	filestore.FileStore
	mu           sync.Mutex
	failSave     map[string]bool
	failDelete   map[string]bool
	deleteCalled []string
	onDelete     func()
}

func (s *flakyStore) Save(ctx context.Context, originalFilename string, content io.Reader) (string, error) {
	if s.failSave[originalFilename] {
		return "", fmt.Errorf("%w: no space left on device", filestore.ErrStorageWrite)
	}
	return s.FileStore.Save(ctx, originalFilename, content)
}

func (s *flakyStore) Delete(ctx context.Context, storedFilename string) error {
	s.mu.Lock()
	s.deleteCalled = append(s.deleteCalled, storedFilename)
	s.mu.Unlock()
	if s.onDelete != nil {
		s.onDelete()
	}
	if s.failDelete[storedFilename] {
		return errors.New("permission denied")
	}
	return s.FileStore.Delete(ctx, storedFilename)
}

func newFlakyCoreService(t *testing.T, cfg *ServiceConfig) (*CoreService, *flakyDatabase, *flakyStore) {
	t.Helper()
	svc := newTestCoreService(t, cfg)
	db := &flakyDatabase{DatabaseService: svc.databaseService}
	store := &flakyStore{FileStore: svc.fileStore, failSave: map[string]bool{}, failDelete: map[string]bool{}}
	return newCoreService(cfg, db, store, svc.listCache), db, store
}

func TestSubmitCompensatesWhenRecordFails(t *testing.T) {
	cfg := newTestConfig(t)
	svc, db, _ := newFlakyCoreService(t, cfg)
	db.failCreate = true

	_, err := svc.Submit(context.Background(), "n", "h", uploads(3))
	if !errors.Is(err, database.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if files := storedFiles(t, cfg); len(files) != 0 {
		t.Fatalf("expected saved files to be removed, found %v", files)
	}
}

func TestSubmitCompensatesWhenSaveFails(t *testing.T) {
	cfg := newTestConfig(t)
	svc, _, store := newFlakyCoreService(t, cfg)
	store.failSave["image2.png"] = true
	ctx := context.Background()

	_, err := svc.Submit(ctx, "n", "h", uploads(4))
	if !errors.Is(err, filestore.ErrStorageWrite) {
		t.Fatalf("expected ErrStorageWrite, got %v", err)
	}
	if files := storedFiles(t, cfg); len(files) != 0 {
		t.Fatalf("expected no files after failed save, found %v", files)
	}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no visible submission, got %d", len(views))
	}
}

func TestDelete(t *testing.T) {
	cfg := newTestConfig(t)
	svc := newTestCoreService(t, cfg)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "Alice", "@alice", uploads(2))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	keep, err := svc.Submit(ctx, "Bob", "@bob", uploads(1))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 1 || views[0].ID != keep {
		t.Fatalf("expected only submission %d to remain, got %+v", keep, views)
	}
	if files := storedFiles(t, cfg); len(files) != 1 {
		t.Fatalf("expected only the remaining submission's file, found %v", files)
	}
}

func TestDeleteNotFound(t *testing.T) {
	cfg := newTestConfig(t)
	svc := newTestCoreService(t, cfg)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "Alice", "@alice", uploads(1)); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	if err := svc.Delete(ctx, 42); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected store unchanged, got %d submissions", len(views))
	}
	if files := storedFiles(t, cfg); len(files) != 1 {
		t.Fatalf("expected files unchanged, found %v", files)
	}
}

func TestDeleteIsBestEffortPerFile(t *testing.T) {
	cfg := newTestConfig(t)
	svc, _, store := newFlakyCoreService(t, cfg)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "n", "h", uploads(3))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	submission, err := svc.databaseService.GetSubmissionByID(ctx, id)
	if err != nil {
		t.Fatalf("GetSubmissionByID error: %v", err)
	}
	stuck := submission.Images[0]
	store.failDelete[stuck] = true

	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	if !reflect.DeepEqual(store.deleteCalled, submission.Images) {
		t.Fatalf("expected delete attempts for %v, got %v", submission.Images, store.deleteCalled)
	}
	if files := storedFiles(t, cfg); !reflect.DeepEqual(files, []string{stuck}) {
		t.Fatalf("expected only %s to remain, found %v", stuck, files)
	}
	if _, err := svc.databaseService.GetSubmissionByID(ctx, id); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected metadata to be removed, got %v", err)
	}
}

func TestDeleteCompletesAfterCancel(t *testing.T) {
	cfg := newTestConfig(t)
	svc, _, store := newFlakyCoreService(t, cfg)

	id, err := svc.Submit(context.Background(), "n", "h", uploads(2))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// client goes away while files are being removed
	store.onDelete = cancel

	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if len(store.deleteCalled) != 2 {
		t.Fatalf("expected both files to be removed, got %v", store.deleteCalled)
	}
	if files := storedFiles(t, cfg); len(files) != 0 {
		t.Fatalf("expected no files left, found %v", files)
	}
	if _, err := svc.databaseService.GetSubmissionByID(context.Background(), id); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected metadata to be removed, got %v", err)
	}
}

func TestDeleteReportsMetadataFailure(t *testing.T) {
	cfg := newTestConfig(t)
	svc, db, _ := newFlakyCoreService(t, cfg)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "n", "h", uploads(2))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	db.failDelete = true

	if err := svc.Delete(ctx, id); !errors.Is(err, database.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	// files are gone, metadata stays
	if files := storedFiles(t, cfg); len(files) != 0 {
		t.Fatalf("expected files to be removed, found %v", files)
	}
	if _, err := svc.databaseService.GetSubmissionByID(ctx, id); err != nil {
		t.Fatalf("expected metadata to remain, got %v", err)
	}
}

func TestListIsIdempotent(t *testing.T) {
	cfg := newTestConfig(t)
	svc := newTestCoreService(t, cfg)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "Alice", "@alice", uploads(2)); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	first, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List #1 error: %v", err)
	}
	second, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List #2 error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
}

func TestListCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis error: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := newTestConfig(t)
	cfg.Cache.RedisAddr = mr.Addr()
	svc := newTestCoreService(t, cfg)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "Alice", "@alice", uploads(1)); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	first, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if !mr.Exists(listCacheKey) {
		t.Fatalf("expected list to be cached")
	}
	cached, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("cached List error: %v", err)
	}
	if !reflect.DeepEqual(first, cached) {
		t.Fatalf("cached list differs: %+v vs %+v", first, cached)
	}

	// writes invalidate the cached list
	id, err := svc.Submit(ctx, "Bob", "@bob", nil)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if mr.Exists(listCacheKey) {
		t.Fatalf("expected submit to invalidate the cached list")
	}
	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 submissions after submit, got %d", len(views))
	}

	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if mr.Exists(listCacheKey) {
		t.Fatalf("expected delete to invalidate the cached list")
	}
}

func TestNewCoreService_UnsupportedDatabase(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Database.Type = "oracle"
	if _, err := NewCoreService(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unsupported database")
	}
}
