package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/layered-backend/internal/http/response"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/services"
)

// Blob ids never get new bytes, so responses can be cached forever.
const immutableCache = "public, max-age=31536000, immutable"

type BlobHandler struct {
	log   *logger.Logger
	blobs services.BlobService
}

func NewBlobHandler(log *logger.Logger, blobs services.BlobService) *BlobHandler {
	return &BlobHandler{log: log.With("handler", "BlobHandler"), blobs: blobs}
}

// GET /api/blobs/:id
func (h *BlobHandler) Serve(c *gin.Context) {
	blob, obj, err := h.blobs.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, "blob_read_failed", err)
		return
	}
	defer obj.Body.Close()

	contentType := blob.ContentType
	if contentType == "" {
		contentType = obj.Attrs.ContentType
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", immutableCache)
	if obj.Attrs.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(obj.Attrs.Size, 10))
	}
	if obj.Attrs.ETag != "" {
		c.Header("ETag", obj.Attrs.ETag)
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, obj.Body); err != nil {
		h.log.Warn("Blob stream interrupted", "blob_id", blob.ID, "error", err)
	}
}
