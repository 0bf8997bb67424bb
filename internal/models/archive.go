package models

import (
	"time"

	"github.com/google/uuid"
)

// ArchiveStatus represents the S3 archival lifecycle of a download.
const (
	ArchiveStatusPending  = "pending"
	ArchiveStatusUploaded = "uploaded"
	ArchiveStatusFailed   = "failed"
)

// Archive is the S3 copy of a downloaded file. Archival is tracked separately
// so download rows stay immutable.
type Archive struct {
	ID         uuid.UUID `json:"id"`
	DownloadID uuid.UUID `json:"download_id"`
	S3Bucket   string    `json:"s3_bucket,omitempty"`
	S3Key      string    `json:"s3_key,omitempty"`
	S3URL      string    `json:"s3_url,omitempty"`
	FileSize   int64     `json:"file_size"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
