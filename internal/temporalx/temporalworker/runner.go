package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	jobrt "github.com/yungbote/layered-backend/internal/jobs/runtime"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/temporalx"
	"github.com/yungbote/layered-backend/internal/temporalx/jobrun"
)

type Runner struct {
	log *logger.Logger
	cfg temporalx.Config

	tc       temporalsdkclient.Client
	db       *gorm.DB
	jobRepo  jobrepos.JobRunRepo
	registry *jobrt.Registry
	notify   jobrt.Notifier
	metrics  *observability.Metrics
}

func NewRunner(
	log *logger.Logger,
	cfg temporalx.Config,
	tc temporalsdkclient.Client,
	db *gorm.DB,
	jobRepo jobrepos.JobRunRepo,
	registry *jobrt.Registry,
	notify jobrt.Notifier,
	metrics *observability.Metrics,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if db == nil || jobRepo == nil || registry == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{
		log:      log.With("component", "TemporalWorker"),
		cfg:      cfg,
		tc:       tc,
		db:       db,
		jobRepo:  jobRepo,
		registry: registry,
		notify:   notify,
		metrics:  metrics,
	}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	cfg := r.cfg
	r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	if cfg.AutoRegisterNamespace {
		if err := temporalx.EnsureNamespace(ctx, cfg, r.log); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := envutil.Duration("TEMPORAL_WORKER_START_MAX_WAIT", 60*time.Second)
	backoff := envutil.Duration("TEMPORAL_WORKER_START_BACKOFF", 250*time.Millisecond)
	backoffMax := envutil.Duration("TEMPORAL_WORKER_START_BACKOFF_MAX", 5*time.Second)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && cfg.AutoRegisterNamespace {
			_ = temporalx.EnsureNamespace(ctx, cfg, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			if errors.As(startErr, &nfe) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		time.Sleep(temporalx.Backoff(backoff, backoffMax, attempt))
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := r.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	wf := &jobrun.Workflows{Options: jobrun.Options{
		MaxAttempts:     int32(r.cfg.ActivityMaxAttempts),
		InitialInterval: r.cfg.ActivityInitialInterval,
		MaxInterval:     r.cfg.ActivityMaxInterval,
		Timeout:         r.cfg.ActivityTimeout,
		Heartbeat:       r.cfg.HeartbeatTimeout,
	}}
	acts := &jobrun.Activities{
		Log:         r.log,
		DB:          r.db,
		Jobs:        r.jobRepo,
		Registry:    r.registry,
		Notify:      r.notify,
		Metrics:     r.metrics,
		MaxAttempts: int32(r.cfg.ActivityMaxAttempts),
	}

	w.RegisterWorkflowWithOptions(wf.Run, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Run, activity.RegisterOptions{Name: jobrun.ActivityRun})
	return w
}
