package downloads

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipvault/backend/internal/models"
)

// Repository handles download persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a downloads repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a completed download and fills in id and created_at.
func (r *Repository) Create(ctx context.Context, d *models.Download) error {
	const q = `INSERT INTO downloads (title, source_url, file_name, kind, file_size, duration_label, thumbnail_url, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, d.Title, d.SourceURL, d.FileName, d.Kind, d.FileSize, d.DurationLabel, d.ThumbnailURL, d.StoragePath).
		Scan(&d.ID, &d.CreatedAt)
}

// GetByID returns a download by ID, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Download, error) {
	const q = `SELECT id, title, source_url, file_name, kind, file_size, duration_label, thumbnail_url, storage_path, created_at
		FROM downloads WHERE id = $1`
	var d models.Download
	err := r.pool.QueryRow(ctx, q, id).Scan(&d.ID, &d.Title, &d.SourceURL, &d.FileName, &d.Kind, &d.FileSize, &d.DurationLabel, &d.ThumbnailURL, &d.StoragePath, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// GetByFileName returns the download owning fileName, or nil when absent.
func (r *Repository) GetByFileName(ctx context.Context, fileName string) (*models.Download, error) {
	const q = `SELECT id, title, source_url, file_name, kind, file_size, duration_label, thumbnail_url, storage_path, created_at
		FROM downloads WHERE file_name = $1 ORDER BY created_at DESC LIMIT 1`
	var d models.Download
	err := r.pool.QueryRow(ctx, q, fileName).Scan(&d.ID, &d.Title, &d.SourceURL, &d.FileName, &d.Kind, &d.FileSize, &d.DurationLabel, &d.ThumbnailURL, &d.StoragePath, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// List returns all downloads, newest first.
func (r *Repository) List(ctx context.Context) ([]models.Download, error) {
	const q = `SELECT id, title, source_url, file_name, kind, file_size, duration_label, thumbnail_url, storage_path, created_at
		FROM downloads ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Download
	for rows.Next() {
		var d models.Download
		if err := rows.Scan(&d.ID, &d.Title, &d.SourceURL, &d.FileName, &d.Kind, &d.FileSize, &d.DurationLabel, &d.ThumbnailURL, &d.StoragePath, &d.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// Delete removes a download row. Returns false when no row matched.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM downloads WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
