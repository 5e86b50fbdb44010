package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/layered-backend/internal/http/response"
	"github.com/yungbote/layered-backend/internal/services"
)

const defaultStaleAge = time.Hour

type OpsHandler struct {
	projects services.ProjectService
}

func NewOpsHandler(projects services.ProjectService) *OpsHandler {
	return &OpsHandler{projects: projects}
}

// GET /api/ops/stale-projects?older_than=1h
func (h *OpsHandler) StaleProjects(c *gin.Context) {
	olderThan := defaultStaleAge
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_older_than", err)
			return
		}
		olderThan = d
	}
	stale, err := h.projects.ListStale(c.Request.Context(), olderThan, 0)
	if err != nil {
		response.RespondServiceError(c, "list_stale_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"older_than": olderThan.String(), "projects": stale})
}
