package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	dataagg "github.com/yungbote/layered-backend/internal/data/aggregates"
	domainagg "github.com/yungbote/layered-backend/internal/domain/aggregates"
	"github.com/yungbote/layered-backend/internal/jobs/orchestrator"
	"github.com/yungbote/layered-backend/internal/jobs/pipeline/generate_project"
	jobrt "github.com/yungbote/layered-backend/internal/jobs/runtime"
	"github.com/yungbote/layered-backend/internal/jobs/worker"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/services"
	"github.com/yungbote/layered-backend/internal/temporalx/jobrun"
	"github.com/yungbote/layered-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Ledger   domainagg.ProjectLedger
	Jobs     services.JobService
	Projects services.ProjectService
	Blobs    services.BlobService
	Stale    *services.StaleReporter
	Notifier jobrt.Notifier
	Registry *jobrt.Registry

	// Exactly one of these runs jobs, chosen by Config.DispatchMode.
	PollWorker     *worker.Worker
	TemporalWorker *temporalworker.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	out.Ledger = dataagg.NewProjectLedger(dataagg.ProjectLedgerDeps{
		Base: dataagg.BaseDeps{
			DB:    db,
			Log:   log,
			Hooks: dataagg.NewObservabilityHooks(metrics),
		},
		Projects:    repos.Project,
		Predictions: repos.Prediction,
		Blobs:       repos.Blob,
		Links:       repos.PredictionBlob,
	})

	var rdb goredis.UniversalClient
	if clients.Bus != nil {
		out.Notifier = services.NewJobNotifier(log, clients.Bus)
		rdb = clients.Bus.Client()
	}

	engine, err := wireEngine(log, cfg, repos, clients, out.Ledger, metrics)
	if err != nil {
		return out, err
	}
	out.Registry = jobrt.NewRegistry()
	if err := out.Registry.Register(generate_project.New(engine)); err != nil {
		return out, fmt.Errorf("register %s: %w", generate_project.JobType, err)
	}

	var dispatcher services.Dispatcher
	switch cfg.DispatchMode {
	case DispatchTemporal:
		dispatcher = jobrun.NewDispatcher(log, clients.Temporal, cfg.Temporal.TaskQueue)
		out.TemporalWorker, err = temporalworker.NewRunner(log, cfg.Temporal, clients.Temporal, db, repos.JobRun, out.Registry, out.Notifier, metrics)
		if err != nil {
			return out, fmt.Errorf("init temporal worker: %w", err)
		}
	default:
		out.PollWorker = worker.NewWorker(db, log, repos.JobRun, out.Registry, out.Notifier, metrics, cfg.Worker)
	}

	out.Jobs = services.NewJobService(db, log, repos.JobRun, out.Notifier, dispatcher)
	out.Blobs = services.NewBlobService(log, repos.Blob, clients.Store)
	out.Projects = services.NewProjectService(log, services.ProjectServiceDeps{
		Ledger:        out.Ledger,
		Projects:      repos.Project,
		Predictions:   repos.Prediction,
		Links:         repos.PredictionBlob,
		Jobs:          out.Jobs,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	out.Stale = services.NewStaleReporter(log, out.Projects, metrics, rdb, cfg.Stale)
	return out, nil
}

func wireEngine(log *logger.Logger, cfg Config, repos Repos, clients Clients, ledger domainagg.ProjectLedger, metrics *observability.Metrics) (*generate_project.Engine, error) {
	base := orchestrator.DefaultRetryPolicy()
	base.MaxAttempts = cfg.StepMaxAttempts
	base.MinBackoff = cfg.StepMinBackoff
	base.MaxBackoff = cfg.StepMaxBackoff

	pf, err := orchestrator.LoadPolicyFile(cfg.StepPolicyFile)
	if err != nil {
		return nil, err
	}
	policy, steps := pf.Apply(base)

	engineCfg := generate_project.Config{
		Policy:            policy,
		StepPolicies:      steps,
		UploadConcurrency: cfg.UploadConcurrency,
	}
	if metrics != nil {
		engineCfg.Observer = metrics
	}
	return generate_project.NewEngine(generate_project.Deps{
		Ledger:      ledger,
		Store:       clients.Store,
		Inference:   clients.Inference,
		Captioner:   clients.Captioner,
		Fetcher:     clients.Fetcher,
		Checkpoints: orchestrator.NewRepoCheckpoints(repos.StepCheckpoint),
		Log:         log,
	}, engineCfg), nil
}
