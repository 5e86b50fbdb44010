package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/layered-backend/internal/data/db"
	httpapi "github.com/yungbote/layered-backend/internal/http"
	httpH "github.com/yungbote/layered-backend/internal/http/handlers"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/services"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *httpapi.Server
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log.Info("Starting layered backend", "dispatch_mode", cfg.DispatchMode, "db_driver", cfg.DBDriver)

	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)
	metrics := observability.Init(log)

	theDB, err := openDB(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)
	clientset, err := wireClients(ctx, log, cfg, metrics)
	if err != nil {
		clientset.Close()
		log.Sync()
		return nil, err
	}
	serviceset, err := wireServices(theDB, log, cfg, reposet, clientset, metrics)
	if err != nil {
		clientset.Close()
		log.Sync()
		return nil, err
	}

	server := httpapi.NewServer(httpapi.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		CORSOrigins:    cfg.CORSOrigins,
		ServiceName:    cfg.Otel.ServiceName,
		UploadHandler:  httpH.NewUploadHandler(log, serviceset.Blobs),
		ProjectHandler: httpH.NewProjectHandler(log, serviceset.Projects),
		BlobHandler:    httpH.NewBlobHandler(log, serviceset.Blobs),
		OpsHandler:     httpH.NewOpsHandler(serviceset.Projects),
		HealthHandler:  httpH.NewHealthHandler(theDB),
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Server:       server,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clientset,
		Services:     serviceset,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

func openDB(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	svc, err := db.Open(log, cfg.DBDriver, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := svc.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("db automigrate: %w", err)
	}
	return svc.DB(), nil
}

// Start launches the background loops: the job runner for the configured
// dispatch mode, the queue depth collector and the stale report.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB)

	if a.Services.TemporalWorker != nil {
		if err := a.Services.TemporalWorker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	if a.Services.PollWorker != nil {
		a.Services.PollWorker.Start(ctx)
	}
	if a.Services.Stale != nil {
		if err := a.Services.Stale.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "port", a.Cfg.Port)
	return a.Server.Run(ctx, ":"+a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.PollWorker != nil {
		a.Services.PollWorker.Wait()
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// Ops is the read-only slice of the app used by operator commands. It opens
// the database and nothing else.
type Ops struct {
	Log      *logger.Logger
	Projects services.ProjectService
}

func NewOps() (*Ops, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	theDB, err := openDB(log, cfg)
	if err != nil {
		return nil, err
	}
	reposet := wireRepos(theDB, log)
	return &Ops{
		Log: log,
		Projects: services.NewProjectService(log, services.ProjectServiceDeps{
			Projects:      reposet.Project,
			Predictions:   reposet.Prediction,
			Links:         reposet.PredictionBlob,
			PublicBaseURL: cfg.PublicBaseURL,
		}),
	}, nil
}
