package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/backend/internal/downloader"
	"github.com/clipvault/backend/internal/models"
)

// stubDownloader is a Downloader double. It writes writeBytes to the
// destination unless skipWrite is set, then returns meta/fail.
type stubDownloader struct {
	mu         sync.Mutex
	calls      int
	writeBytes int
	skipWrite  bool
	meta       *downloader.Metadata
	fail       error
	waitCtx    bool // block until ctx is done, then return ctx.Err()
}

func (d *stubDownloader) Fetch(ctx context.Context, sourceURL, kind, destPath string, progress downloader.ProgressFunc) (*downloader.Metadata, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	if d.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !d.skipWrite && (d.writeBytes > 0 || d.fail == nil) {
		if err := os.WriteFile(destPath, make([]byte, d.writeBytes), 0600); err != nil {
			return nil, err
		}
	}
	if d.fail != nil {
		return nil, d.fail
	}
	if progress != nil {
		progress(100)
	}
	return d.meta, nil
}

func (d *stubDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// memStore is an in-memory RecordStore double.
type memStore struct {
	mu        sync.Mutex
	recs      map[uuid.UUID]models.Download
	order     []uuid.UUID
	createErr error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[uuid.UUID]models.Download)}
}

func (s *memStore) Create(_ context.Context, d *models.Download) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	s.recs[d.ID] = *d
	s.order = append(s.order, d.ID)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.recs[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (s *memStore) GetByFileName(_ context.Context, fileName string) (*models.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.recs {
		if d.FileName == fileName {
			return &d, nil
		}
	}
	return nil, nil
}

func (s *memStore) List(_ context.Context) ([]models.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Download, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if d, ok := s.recs[s.order[i]]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	if _, ok := s.recs[id]; !ok {
		return false, nil
	}
	delete(s.recs, id)
	return true, nil
}

func newTestService(t *testing.T, dl downloader.Downloader, store RecordStore) *Service {
	t.Helper()
	return NewService(store, dl, t.TempDir(), 0, nil, nil, nil)
}

func TestSubmitInvalidRequest(t *testing.T) {
	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing source_url", SubmitRequest{Kind: models.KindAudio}},
		{"missing kind", SubmitRequest{SourceURL: "https://example.com/watch?v=abc"}},
		{"unknown kind", SubmitRequest{SourceURL: "https://example.com/watch?v=abc", Kind: "gif"}},
		{"not a URL", SubmitRequest{SourceURL: "not a url", Kind: models.KindAudio}},
		{"bad scheme", SubmitRequest{SourceURL: "ftp://example.com/file", Kind: models.KindVideo}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dl := &stubDownloader{}
			svc := newTestService(t, dl, newMemStore())

			_, err := svc.Submit(context.Background(), tc.req)

			require.Error(t, err)
			assert.Equal(t, KindInvalidRequest, KindOf(err))
			assert.Equal(t, 0, dl.callCount(), "downloader must not be invoked for invalid input")
		})
	}
}

func TestSubmitSuccessAudio(t *testing.T) {
	dl := &stubDownloader{
		writeBytes: 1024,
		meta:       &downloader.Metadata{Title: "Test Song", DurationLabel: "3:12", ThumbnailURL: "https://img.example.com/t.jpg"},
	}
	store := newMemStore()
	svc := newTestService(t, dl, store)

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindAudio,
	})

	require.NoError(t, err)
	assert.Equal(t, "Test Song", rec.Title)
	assert.Equal(t, int64(1024), rec.FileSize)
	assert.Equal(t, "3:12", rec.DurationLabel)
	assert.True(t, filepath.Ext(rec.FileName) == ".mp3", "audio downloads get an mp3 extension, got %s", rec.FileName)
	assert.FileExists(t, rec.StoragePath)
	assert.Equal(t, 1, dl.callCount())

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestSubmitSuccessVideoExtension(t *testing.T) {
	dl := &stubDownloader{writeBytes: 10}
	svc := newTestService(t, dl, newMemStore())

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindVideo,
	})

	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(rec.FileName))
}

func TestSubmitRecordJSONHidesStoragePath(t *testing.T) {
	dl := &stubDownloader{writeBytes: 10, meta: &downloader.Metadata{Title: "t"}}
	svc := newTestService(t, dl, newMemStore())

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindAudio,
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.StoragePath)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), rec.StoragePath)
	assert.NotContains(t, string(raw), "storage_path")
}

func TestSubmitDownloaderFailure(t *testing.T) {
	dl := &stubDownloader{writeBytes: 10, fail: errors.New("ERROR: unsupported URL")}
	store := newMemStore()
	svc := newTestService(t, dl, store)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindVideo,
	})

	require.Error(t, err)
	assert.Equal(t, KindDownloaderFailure, KindOf(err))

	// No partial file left behind and no record persisted.
	entries, readErr := os.ReadDir(svc.Dir())
	require.NoError(t, readErr)
	assert.Empty(t, entries)
	list, _ := store.List(context.Background())
	assert.Empty(t, list)
}

func TestSubmitInconsistentResult(t *testing.T) {
	dl := &stubDownloader{skipWrite: true}
	store := newMemStore()
	svc := newTestService(t, dl, store)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindAudio,
	})

	require.Error(t, err)
	assert.Equal(t, KindInconsistentResult, KindOf(err))
	list, _ := store.List(context.Background())
	assert.Empty(t, list)
}

func TestSubmitPersistenceFailedKeepsFile(t *testing.T) {
	dl := &stubDownloader{writeBytes: 10}
	store := newMemStore()
	store.createErr = errors.New("connection refused")
	svc := newTestService(t, dl, store)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindAudio,
	})

	require.Error(t, err)
	assert.Equal(t, KindPersistenceFailed, KindOf(err))

	// The downloaded file is deliberately retained.
	entries, readErr := os.ReadDir(svc.Dir())
	require.NoError(t, readErr)
	assert.Len(t, entries, 1)
}

func TestSubmitTimeout(t *testing.T) {
	dl := &stubDownloader{waitCtx: true}
	store := newMemStore()
	svc := NewService(store, dl, t.TempDir(), 20*time.Millisecond, nil, nil, nil)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindVideo,
	})

	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	list, _ := store.List(context.Background())
	assert.Empty(t, list)
}

func TestSubmitDistinctFileNames(t *testing.T) {
	dl := &stubDownloader{writeBytes: 1}
	store := newMemStore()
	svc := newTestService(t, dl, store)
	req := SubmitRequest{SourceURL: "https://example.com/watch?v=abc", Kind: models.KindAudio}

	first, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.FileName, second.FileName)
	list, _ := svc.List(context.Background())
	assert.Len(t, list, 2)
}

func TestDeleteThenDeleteAgain(t *testing.T) {
	dl := &stubDownloader{writeBytes: 10}
	store := newMemStore()
	svc := newTestService(t, dl, store)

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindAudio,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), rec.ID))
	assert.NoFileExists(t, rec.StoragePath)

	err = svc.Delete(context.Background(), rec.ID)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDeleteToleratesMissingFile(t *testing.T) {
	dl := &stubDownloader{writeBytes: 10}
	store := newMemStore()
	svc := newTestService(t, dl, store)

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindVideo,
	})
	require.NoError(t, err)
	require.NoError(t, os.Remove(rec.StoragePath))

	assert.NoError(t, svc.Delete(context.Background(), rec.ID))
}

func TestDeletePartialFailure(t *testing.T) {
	dl := &stubDownloader{writeBytes: 10}
	store := newMemStore()
	svc := newTestService(t, dl, store)

	rec, err := svc.Submit(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/watch?v=abc",
		Kind:      models.KindAudio,
	})
	require.NoError(t, err)

	store.deleteErr = errors.New("connection refused")
	err = svc.Delete(context.Background(), rec.ID)

	require.Error(t, err)
	assert.Equal(t, KindPartialFailure, KindOf(err))
	// The file is gone but the record lingers: the documented inconsistency.
	assert.NoFileExists(t, rec.StoragePath)
	got, _ := store.GetByID(context.Background(), rec.ID)
	assert.NotNil(t, got)
}

func TestDeleteBothSidesFailingIsNotPartial(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, &stubDownloader{}, store)

	// A non-empty directory as the storage path makes the file removal fail
	// while the store rejects the record removal.
	dir := filepath.Join(t.TempDir(), "stuck")
	require.NoError(t, os.Mkdir(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "child"), []byte("x"), 0o600))

	id := uuid.New()
	store.recs[id] = models.Download{ID: id, FileName: "media-9.mp3", StoragePath: dir}
	store.order = append(store.order, id)
	store.deleteErr = errors.New("connection refused")

	err := svc.Delete(context.Background(), id)

	require.Error(t, err)
	// Nothing was removed, so this is a full failure, not a partial one.
	assert.NotEqual(t, KindPartialFailure, KindOf(err))
	assert.Equal(t, Kind(0), KindOf(err))
	assert.DirExists(t, dir)
	got, _ := store.GetByID(context.Background(), id)
	assert.NotNil(t, got)
}

func TestGetUnknownID(t *testing.T) {
	svc := newTestService(t, &stubDownloader{}, newMemStore())

	_, err := svc.Get(context.Background(), uuid.New())

	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}
