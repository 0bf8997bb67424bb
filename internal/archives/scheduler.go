package archives

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clipvault/backend/internal/models"
	"github.com/clipvault/backend/pkg/queue"
)

// Scheduler creates a pending archive row and enqueues the upload job. It
// implements the pipeline's Archiver capability.
type Scheduler struct {
	repo   *Repository
	queue  *queue.Queue
	logger *zap.Logger
}

// NewScheduler creates an archive scheduler.
func NewScheduler(repo *Repository, q *queue.Queue, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{repo: repo, queue: q, logger: logger}
}

// ScheduleArchive records a pending archive and enqueues its upload.
func (s *Scheduler) ScheduleArchive(ctx context.Context, d *models.Download) error {
	a, err := s.repo.CreatePending(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("create pending archive: %w", err)
	}
	err = s.queue.EnqueueArchiveUpload(ctx, queue.ArchiveUploadPayload{
		ArchiveID:  a.ID,
		DownloadID: d.ID,
		FileName:   d.FileName,
	})
	if err != nil {
		return fmt.Errorf("enqueue archive upload: %w", err)
	}
	s.logger.Debug("archive scheduled", zap.String("download_id", d.ID.String()), zap.String("archive_id", a.ID.String()))
	return nil
}
