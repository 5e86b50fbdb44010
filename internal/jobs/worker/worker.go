package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gorm.io/gorm"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/jobs/orchestrator"
	"github.com/yungbote/layered-backend/internal/jobs/runtime"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	StaleRunning      time.Duration
	HeartbeatInterval time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:       envutil.Int("WORKER_CONCURRENCY", 4),
		PollInterval:      envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		MaxAttempts:       envutil.Int("WORKER_MAX_ATTEMPTS", 5),
		RetryDelay:        envutil.Duration("WORKER_RETRY_DELAY", 30*time.Second),
		MaxRetryDelay:     envutil.Duration("WORKER_MAX_RETRY_DELAY", 10*time.Minute),
		StaleRunning:      envutil.Duration("WORKER_STALE_RUNNING", 30*time.Minute),
		HeartbeatInterval: envutil.Duration("WORKER_HEARTBEAT_INTERVAL", 15*time.Second),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 30 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	return c
}

// Worker is the poll-mode scheduler: a pool of loops that claim runnable
// job_run rows and hand them to the registered handler.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     jobrepos.JobRunRepo
	registry *runtime.Registry
	notify   runtime.Notifier
	metrics  *observability.Metrics
	cfg      Config
	now      func() time.Time

	wg sync.WaitGroup
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo jobrepos.JobRunRepo, registry *runtime.Registry, notify runtime.Notifier, metrics *observability.Metrics, cfg Config) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
}

// Wait blocks until every loop started by Start has returned.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain the queue before going back to sleep.
			for ctx.Err() == nil && w.ProcessOne(ctx, workerID) {
			}
		}
	}
}

// ProcessOne claims and runs at most one job. It reports whether a job was claimed.
func (w *Worker) ProcessOne(ctx context.Context, workerID int) bool {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.StaleRunning)
	if err != nil {
		w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
		return false
	}
	if job == nil {
		return false
	}
	log := w.log.With("worker_id", workerID, "job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)
	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type")
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		w.metrics.ObserveJob(job.JobType, jobs.StatusFailed, 0)
		return true
	}

	start := w.now()
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, job.ID)
	runErr := w.runHandler(log, h, jc)
	stopHeartbeat()

	w.settle(ctx, log, jc, runErr)
	w.metrics.ObserveJob(job.JobType, jc.Job.Status, w.now().Sub(start))
	return true
}

func (w *Worker) runHandler(log *logger.Logger, h runtime.Handler, jc *runtime.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "panic", r)
			err = orchestrator.Permanent(errFromRecover(r))
		}
	}()
	return h.Run(jc)
}

// settle decides what happens to a job the handler returned from.
func (w *Worker) settle(ctx context.Context, log *logger.Logger, jc *runtime.Context, runErr error) {
	job := jc.Job
	switch {
	case runErr == nil:
		if !job.Terminal() {
			jc.Succeed("completed", nil)
		}
	case ctx.Err() != nil:
		// Shutdown. The row stays running and is reclaimed once its heartbeat goes stale.
		log.Info("Job interrupted by shutdown", "error", runErr)
	case orchestrator.IsTerminal(runErr) || job.Attempts >= w.cfg.MaxAttempts:
		log.Error("Job failed", "error", runErr)
		jc.Fail("run", runErr)
	default:
		delay := w.retryDelay(job.Attempts)
		log.Warn("Job will be retried", "error", runErr, "retry_in", delay)
		jc.Retry("retry", runErr, w.now().Add(delay))
	}
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(w.cfg.RetryDelay) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || d > w.cfg.MaxRetryDelay {
		d = w.cfg.MaxRetryDelay
	}
	return d
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(dbctx.Context{Ctx: ctx}, jobID); err != nil && ctx.Err() == nil {
				w.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
