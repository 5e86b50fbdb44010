package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/layered-backend/internal/http/handlers"
	httpMW "github.com/yungbote/layered-backend/internal/http/middleware"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	ServiceName string

	UploadHandler  *httpH.UploadHandler
	ProjectHandler *httpH.ProjectHandler
	BlobHandler    *httpH.BlobHandler
	OpsHandler     *httpH.OpsHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "layered-api"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		if cfg.UploadHandler != nil {
			api.POST("/uploads", cfg.UploadHandler.Upload)
		}

		if cfg.ProjectHandler != nil {
			api.POST("/projects", cfg.ProjectHandler.Create)
			api.GET("/projects", cfg.ProjectHandler.List)
			api.GET("/projects/:id", cfg.ProjectHandler.Get)
			api.GET("/predictions/:id/layers", cfg.ProjectHandler.Layers)
		}

		if cfg.BlobHandler != nil {
			api.GET("/blobs/:id", cfg.BlobHandler.Serve)
		}

		if cfg.OpsHandler != nil {
			api.GET("/ops/stale-projects", cfg.OpsHandler.StaleProjects)
		}
	}

	return r
}
