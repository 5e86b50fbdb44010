package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/layered-backend/internal/http/response"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/services"
)

type UploadHandler struct {
	log   *logger.Logger
	blobs services.BlobService
}

func NewUploadHandler(log *logger.Logger, blobs services.BlobService) *UploadHandler {
	return &UploadHandler{log: log.With("handler", "UploadHandler"), blobs: blobs}
}

// POST /api/uploads (multipart field "file")
func (h *UploadHandler) Upload(c *gin.Context) {
	// Multipart framing needs a little headroom over the file limit.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	if fh.Size > services.MaxUploadBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, services.MaxUploadBytes+1))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}

	blob, err := h.blobs.Upload(c.Request.Context(), services.UploadInput{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		response.RespondServiceError(c, "upload_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"blob": blob})
}
