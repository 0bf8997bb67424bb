package downloads

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipvault/backend/internal/downloader"
	"github.com/clipvault/backend/internal/models"
)

// RecordStore persists download records. *Repository is the PostgreSQL
// implementation; tests use an in-memory double.
type RecordStore interface {
	Create(ctx context.Context, d *models.Download) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Download, error)
	GetByFileName(ctx context.Context, fileName string) (*models.Download, error)
	List(ctx context.Context) ([]models.Download, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// Archiver schedules the S3 archival of a completed download. Optional.
type Archiver interface {
	ScheduleArchive(ctx context.Context, d *models.Download) error
}

// Notifier broadcasts pipeline events to connected WebSocket clients. Optional.
type Notifier interface {
	Broadcast(event string, payload interface{})
}

// SubmitRequest is one inbound download request.
type SubmitRequest struct {
	SourceURL string `json:"source_url" binding:"required"`
	Kind      string `json:"kind" binding:"required"`
}

// Service runs the download pipeline: validate, derive a destination, invoke
// the external downloader, confirm the file, persist the record. Each call is
// independent; there is no shared mutable state beyond the store and the
// download directory.
type Service struct {
	store    RecordStore
	dl       downloader.Downloader
	archiver Archiver
	notifier Notifier
	dir      string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewService creates the pipeline service. archiver and notifier may be nil.
// timeout bounds each external invocation; 0 disables the deadline.
func NewService(store RecordStore, dl downloader.Downloader, dir string, timeout time.Duration, archiver Archiver, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		dl:       dl,
		archiver: archiver,
		notifier: notifier,
		dir:      dir,
		timeout:  timeout,
		logger:   logger,
	}
}

// Dir returns the download directory.
func (s *Service) Dir() string { return s.dir }

// Submit runs one download end to end and returns the persisted record.
// Blocks for the full duration of the external invocation; the caller's HTTP
// response stays pending until it returns.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Download, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	fileName := deriveFileName(req.Kind)
	destPath := filepath.Join(s.dir, fileName)
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return nil, E(KindDownloaderFailure, "create download directory", err)
	}

	s.broadcast("download_started", map[string]string{
		"source_url": req.SourceURL,
		"kind":       req.Kind,
		"file_name":  fileName,
	})

	fetchCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	meta, err := s.dl.Fetch(fetchCtx, req.SourceURL, req.Kind, destPath, func(percent int) {
		s.broadcast("download_progress", map[string]interface{}{
			"file_name": fileName,
			"percent":   percent,
		})
	})
	if err != nil {
		s.removeFile(destPath)
		s.broadcast("download_failed", map[string]string{"file_name": fileName})
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("download timed out", zap.String("source_url", req.SourceURL), zap.Duration("timeout", s.timeout))
			return nil, E(KindTimeout, "download timed out", err)
		}
		s.logger.Error("download failed", zap.String("source_url", req.SourceURL), zap.Error(err))
		return nil, E(KindDownloaderFailure, "download failed", err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		s.broadcast("download_failed", map[string]string{"file_name": fileName})
		s.logger.Error("downloader reported success but file is missing", zap.String("file_name", fileName), zap.Error(err))
		return nil, E(KindInconsistentResult, "downloaded file not found", err)
	}

	if meta == nil {
		meta = &downloader.Metadata{}
	}
	rec := &models.Download{
		Title:         meta.Title,
		SourceURL:     req.SourceURL,
		FileName:      fileName,
		Kind:          req.Kind,
		FileSize:      info.Size(),
		DurationLabel: meta.DurationLabel,
		ThumbnailURL:  meta.ThumbnailURL,
		StoragePath:   destPath,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		// The file stays on disk; reconciling such orphans is a separate concern.
		s.logger.Error("persist download record failed", zap.String("file_name", fileName), zap.Error(err))
		return nil, E(KindPersistenceFailed, "failed to save download record", err)
	}

	if s.archiver != nil {
		if err := s.archiver.ScheduleArchive(ctx, rec); err != nil {
			s.logger.Warn("schedule archive failed", zap.String("download_id", rec.ID.String()), zap.Error(err))
		}
	}
	s.broadcast("download_completed", rec)

	s.logger.Info("download completed",
		zap.String("download_id", rec.ID.String()),
		zap.String("file_name", rec.FileName),
		zap.String("kind", rec.Kind),
		zap.Int64("file_size", rec.FileSize),
	)
	return rec, nil
}

// List returns all download records, newest first.
func (s *Service) List(ctx context.Context) ([]models.Download, error) {
	return s.store.List(ctx)
}

// Get returns one record by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Download, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, E(KindNotFound, "download not found", nil)
	}
	return rec, nil
}

// GetByFileName returns the record owning fileName, or nil when untracked.
func (s *Service) GetByFileName(ctx context.Context, fileName string) (*models.Download, error) {
	return s.store.GetByFileName(ctx, fileName)
}

// Delete removes the on-disk file and the record. The two removals are not
// transactional: when exactly one succeeds the result is KindPartialFailure
// and the resources now disagree. When both fail nothing was removed, so the
// error stays unclassified rather than claiming a partial outcome.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return E(KindNotFound, "download not found", nil)
	}

	var fileErr error
	if err := os.Remove(rec.StoragePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fileErr = err
	}

	found, delErr := s.store.Delete(ctx, id)
	if delErr == nil && !found {
		delErr = errors.New("record already removed")
	}

	switch {
	case fileErr == nil && delErr == nil:
		s.broadcast("download_deleted", map[string]string{"id": id.String()})
		s.logger.Info("download deleted", zap.String("download_id", id.String()), zap.String("file_name", rec.FileName))
		return nil
	case fileErr != nil && delErr != nil:
		s.logger.Error("delete failed for both file and record", zap.String("download_id", id.String()), zap.Error(fileErr), zap.Error(delErr))
		return fmt.Errorf("delete download: %w", errors.Join(fileErr, delErr))
	case fileErr != nil:
		s.logger.Error("file removed from store but not from disk", zap.String("download_id", id.String()), zap.Error(fileErr))
		return E(KindPartialFailure, "record removed but file deletion failed", fileErr)
	default:
		s.logger.Error("file removed from disk but record deletion failed", zap.String("download_id", id.String()), zap.Error(delErr))
		return E(KindPartialFailure, "file removed but record deletion failed", delErr)
	}
}

func (s *Service) removeFile(destPath string) {
	for _, p := range []string{destPath, destPath + ".part"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("remove partial file failed", zap.Error(err))
		}
	}
}

func (s *Service) broadcast(event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.Broadcast(event, payload)
	}
}

func validate(req SubmitRequest) error {
	if req.SourceURL == "" {
		return E(KindInvalidRequest, "source_url is required", nil)
	}
	u, err := url.ParseRequestURI(req.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return E(KindInvalidRequest, "source_url must be a valid http(s) URL", nil)
	}
	if req.Kind == "" {
		return E(KindInvalidRequest, "kind is required", nil)
	}
	if !models.ValidKind(req.Kind) {
		return E(KindInvalidRequest, "kind must be audio or video", nil)
	}
	return nil
}
