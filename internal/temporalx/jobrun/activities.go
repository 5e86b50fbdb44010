package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/jobs/orchestrator"
	jobrt "github.com/yungbote/layered-backend/internal/jobs/runtime"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Jobs     jobrepos.JobRunRepo
	Registry *jobrt.Registry
	Notify   jobrt.Notifier
	Metrics  *observability.Metrics
	// MaxAttempts mirrors the workflow retry policy so the last attempt can
	// record the failure on the row before Temporal gives up.
	MaxAttempts int32
}

func (a *Activities) Run(ctx context.Context, jobID string) (RunResult, error) {
	res := RunResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	if res.JobID == "" {
		return res, terminal(fmt.Errorf("jobrun: invalid job_id"))
	}
	log := a.Log.With("job_id", res.JobID, "attempt", activity.GetInfo(ctx).Attempt)

	job, err := a.Jobs.GetByID(dbctx.Context{Ctx: ctx}, res.JobID)
	if err != nil {
		return res, err
	}
	if job == nil {
		return res, terminal(fmt.Errorf("jobrun: job %s not found", res.JobID))
	}
	if job.Terminal() {
		return fill(res, job), nil
	}

	now := time.Now()
	if _, err := a.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, job.ID,
		[]string{jobs.StatusSucceeded, jobs.StatusFailed},
		map[string]interface{}{
			"status":       jobs.StatusRunning,
			"attempts":     gorm.Expr("attempts + 1"),
			"locked_at":    now,
			"heartbeat_at": now,
			"run_after":    nil,
		}); err != nil {
		return res, fmt.Errorf("jobrun: mark running: %w", err)
	}
	job.Status = jobs.StatusRunning
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now

	stopHB := a.startHeartbeat(ctx, job.ID)
	defer stopHB()

	jc := jobrt.NewContext(ctx, a.DB, job, a.Jobs, a.Notify)
	h, ok := a.Registry.Get(job.JobType)
	if !ok {
		err := fmt.Errorf("no handler registered for job_type=%s", job.JobType)
		jc.Fail("dispatch", err)
		a.Metrics.ObserveJob(job.JobType, jobs.StatusFailed, 0)
		return fill(res, jc.Job), terminal(err)
	}

	start := time.Now()
	runErr := a.runHandler(log, h, jc)
	defer func() { a.Metrics.ObserveJob(job.JobType, jc.Job.Status, time.Since(start)) }()

	switch {
	case runErr == nil:
		if !jc.Job.Terminal() {
			jc.Succeed("completed", nil)
		}
		return fill(res, jc.Job), nil
	case ctx.Err() != nil:
		log.Info("Job run interrupted", "error", runErr)
		return fill(res, jc.Job), runErr
	case orchestrator.IsTerminal(runErr) || activity.GetInfo(ctx).Attempt >= a.maxAttempts():
		log.Error("Job failed", "error", runErr)
		jc.Fail("run", runErr)
		return fill(res, jc.Job), terminal(runErr)
	default:
		log.Warn("Job run failed; Temporal will retry", "error", runErr)
		return fill(res, jc.Job), runErr
	}
}

func (a *Activities) maxAttempts() int32 {
	if a.MaxAttempts <= 0 {
		return 5
	}
	return a.MaxAttempts
}

func (a *Activities) runHandler(log *logger.Logger, h jobrt.Handler, jc *jobrt.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "job_type", jc.Job.JobType, "panic", r)
			err = orchestrator.Permanent(fmt.Errorf("panic: %v", r))
		}
	}()
	return h.Run(jc)
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID string) func() {
	done := make(chan struct{})
	go func() {
		temporalHB := time.NewTicker(10 * time.Second)
		defer temporalHB.Stop()
		dbHB := time.NewTicker(30 * time.Second)
		defer dbHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-temporalHB.C:
				activity.RecordHeartbeat(ctx)
			case <-dbHB.C:
				_ = a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, jobID)
			}
		}
	}()
	return func() { close(done) }
}

func terminal(err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTerminal, err)
}

func fill(res RunResult, job *jobs.JobRun) RunResult {
	if job == nil {
		return res
	}
	res.Status = job.Status
	res.Stage = job.Stage
	res.Progress = job.Progress
	res.Error = job.Error
	return res
}
