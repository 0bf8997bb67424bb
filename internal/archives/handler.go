package archives

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipvault/backend/internal/models"
	"github.com/clipvault/backend/pkg/response"
	"github.com/clipvault/backend/pkg/storage"
)

// Handler handles archive HTTP endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates an archives handler. s3 may be nil when archival is disabled.
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// GenerateDownloadURL handles GET /download/:id/archive-url. Returns a
// presigned S3 URL for the archived copy.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "archival not configured")
		return
	}
	downloadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid download id")
		return
	}

	a, err := h.repo.GetByDownloadID(c.Request.Context(), downloadID)
	if err != nil {
		h.logger.Error("get archive failed", zap.Error(err), zap.String("download_id", downloadID.String()))
		response.Internal(c, "failed to look up archive")
		return
	}
	if a == nil {
		response.NotFound(c, "no archive for this download")
		return
	}
	if a.Status != models.ArchiveStatusUploaded || a.S3Key == "" {
		response.BadRequest(c, "archive not ready for download")
		return
	}

	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), a.S3Bucket, a.S3Key, expire)
	if err != nil {
		h.logger.Error("presign archive download failed", zap.Error(err), zap.String("archive_id", a.ID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}
