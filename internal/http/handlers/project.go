package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/layered-backend/internal/http/response"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/services"
)

type ProjectHandler struct {
	log      *logger.Logger
	projects services.ProjectService
}

func NewProjectHandler(log *logger.Logger, projects services.ProjectService) *ProjectHandler {
	return &ProjectHandler{log: log.With("handler", "ProjectHandler"), projects: projects}
}

// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	detail, err := h.projects.Create(c.Request.Context(), req)
	if err != nil {
		response.RespondServiceError(c, "create_project_failed", err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

// GET /api/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	detail, err := h.projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, "load_project_failed", err)
		return
	}
	response.RespondOK(c, detail)
}

// GET /api/projects?limit=6
func (h *ProjectHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = n
	}
	list, err := h.projects.List(c.Request.Context(), limit)
	if err != nil {
		response.RespondServiceError(c, "list_projects_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"projects": list})
}

// GET /api/predictions/:id/layers
func (h *ProjectHandler) Layers(c *gin.Context) {
	layers, err := h.projects.Layers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, "load_layers_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"layers": layers})
}
