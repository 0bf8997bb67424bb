package archives

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipvault/backend/internal/models"
)

// Repository handles archive persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an archives repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreatePending inserts a pending archive row for a download.
func (r *Repository) CreatePending(ctx context.Context, downloadID uuid.UUID) (*models.Archive, error) {
	const q = `INSERT INTO archives (download_id, status)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`
	a := &models.Archive{DownloadID: downloadID, Status: models.ArchiveStatusPending}
	if err := r.pool.QueryRow(ctx, q, downloadID, a.Status).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

// GetByDownloadID returns the latest archive for a download, or nil when none exists.
func (r *Repository) GetByDownloadID(ctx context.Context, downloadID uuid.UUID) (*models.Archive, error) {
	const q = `SELECT id, download_id, s3_bucket, s3_key, s3_url, file_size, status, created_at, updated_at
		FROM archives WHERE download_id = $1 ORDER BY created_at DESC LIMIT 1`
	var a models.Archive
	err := r.pool.QueryRow(ctx, q, downloadID).Scan(&a.ID, &a.DownloadID, &a.S3Bucket, &a.S3Key, &a.S3URL, &a.FileSize, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// MarkUploaded records the S3 location and flips status to uploaded.
func (r *Repository) MarkUploaded(ctx context.Context, id uuid.UUID, bucket, key, url string, fileSize int64) error {
	const q = `UPDATE archives SET s3_bucket = $1, s3_key = $2, s3_url = $3, file_size = $4, status = $5, updated_at = NOW() WHERE id = $6`
	_, err := r.pool.Exec(ctx, q, bucket, key, url, fileSize, models.ArchiveStatusUploaded, id)
	return err
}

// MarkFailed flips status to failed (after upload retries are exhausted).
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE archives SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, models.ArchiveStatusFailed, id)
	return err
}
