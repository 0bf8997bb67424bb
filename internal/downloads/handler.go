package downloads

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipvault/backend/internal/models"
	"github.com/clipvault/backend/pkg/response"
)

// Handler handles download HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a downloads handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Submit handles POST /download. Blocks until the external downloader
// finishes; the client sees no response before then.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "source_url and kind are required")
		return
	}

	rec, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{
		"message":   "download complete",
		"file_name": rec.FileName,
		"title":     rec.Title,
		"download":  rec,
	})
}

// List handles GET /downloads-list.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list downloads failed", zap.Error(err))
		response.Internal(c, "failed to list downloads")
		return
	}
	if list == nil {
		list = []models.Download{}
	}
	response.OK(c, list)
}

// GetByID handles GET /download/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid download id")
		return
	}
	rec, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, rec)
}

// Delete handles DELETE /download/:id. A second delete of the same id is 404.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid download id")
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "download deleted"})
}

// ServeFile handles GET /downloads/:fileName, serving raw bytes from the
// download directory. The record's title, when known, becomes the attachment
// name.
func (h *Handler) ServeFile(c *gin.Context) {
	fileName := c.Param("fileName")
	if fileName == "" || fileName != filepath.Base(fileName) || strings.Contains(fileName, "..") {
		response.NotFound(c, "file not found")
		return
	}

	path := filepath.Join(h.svc.Dir(), fileName)
	if _, err := os.Stat(path); err != nil {
		response.NotFound(c, "file not found")
		return
	}

	rec, err := h.svc.GetByFileName(c.Request.Context(), fileName)
	if err == nil && rec != nil && rec.Title != "" {
		c.FileAttachment(path, sanitizeTitle(rec.Title)+filepath.Ext(fileName))
		return
	}
	c.File(path)
}

// respondError maps pipeline failure kinds to HTTP statuses. Diagnostic text
// from the external tool is passed through; storage paths never are.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch KindOf(err) {
	case KindInvalidRequest:
		response.BadRequest(c, err.Error())
	case KindNotFound:
		response.NotFound(c, err.Error())
	case KindTimeout:
		response.GatewayTimeout(c, err.Error())
	case KindDownloaderFailure, KindInconsistentResult, KindPersistenceFailed, KindPartialFailure:
		response.Internal(c, err.Error())
	default:
		h.logger.Error("unclassified pipeline error", zap.Error(err))
		response.Internal(c, "internal error")
	}
}
