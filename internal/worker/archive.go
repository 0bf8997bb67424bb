package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/clipvault/backend/internal/archives"
	"github.com/clipvault/backend/internal/downloads"
	"github.com/clipvault/backend/pkg/queue"
	"github.com/clipvault/backend/pkg/storage"
)

// ArchiveProcessor processes archive upload jobs: read the downloaded file
// from disk, upload to S3, mark the archive row uploaded.
type ArchiveProcessor struct {
	archiveRepo  *archives.Repository
	downloadRepo *downloads.Repository
	s3           *storage.S3
	queue        *queue.Queue
	logger       *zap.Logger
}

// NewArchiveProcessor creates an archive upload processor.
func NewArchiveProcessor(archiveRepo *archives.Repository, downloadRepo *downloads.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{archiveRepo: archiveRepo, downloadRepo: downloadRepo, s3: s3, queue: q, logger: logger}
}

// Process executes one archive upload job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeArchiveUpload {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArchiveUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.downloadRepo.GetByID(ctx, payload.DownloadID)
	if err != nil {
		return fmt.Errorf("get download: %w", err)
	}
	if rec == nil {
		// Deleted before the upload ran; nothing to archive.
		p.logger.Info("download gone, skipping archive", zap.String("download_id", payload.DownloadID.String()))
		return nil
	}

	f, err := os.Open(rec.StoragePath)
	if err != nil {
		return fmt.Errorf("open downloaded file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat downloaded file: %w", err)
	}

	key := storage.ArchiveKey(rec.ID.String(), rec.FileName)
	bucket := p.s3.ArchiveBucket()
	s3URL, err := p.s3.Upload(ctx, bucket, key, storage.ContentTypeForKind(rec.Kind), f, info.Size())
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.archiveRepo.MarkUploaded(ctx, payload.ArchiveID, bucket, key, s3URL, info.Size()); err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}

	p.logger.Info("archive upload completed", zap.String("download_id", rec.ID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error, DLQ + mark
// failed when retries are exhausted.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if job.Attempt+1 >= queue.MaxRetries {
				var payload queue.ArchiveUploadPayload
				if json.Unmarshal(job.Payload, &payload) == nil {
					_ = p.archiveRepo.MarkFailed(ctx, payload.ArchiveID)
				}
			}
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
