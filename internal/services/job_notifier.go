package services

import (
	"context"
	"time"

	"github.com/yungbote/layered-backend/internal/clients/redis"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/jobs/runtime"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

const publishTimeout = 2 * time.Second

// jobNotifier fans job events out to the owning project's channel. Publishing
// is best effort; a lost event never changes job state.
type jobNotifier struct {
	log *logger.Logger
	bus redis.ProjectBus
}

func NewJobNotifier(baseLog *logger.Logger, bus redis.ProjectBus) runtime.Notifier {
	return &jobNotifier{log: baseLog.With("service", "JobNotifier"), bus: bus}
}

func (n *jobNotifier) JobProgress(ctx context.Context, job *jobs.JobRun, stage string, pct int) {
	n.publish(ctx, job, redis.ProjectEvent{Type: redis.EventProgress, Stage: stage, Progress: pct})
}

func (n *jobNotifier) JobFailed(ctx context.Context, job *jobs.JobRun, stage string, msg string) {
	n.publish(ctx, job, redis.ProjectEvent{Type: redis.EventFailed, Stage: stage, Progress: job.Progress, Error: msg})
}

func (n *jobNotifier) JobDone(ctx context.Context, job *jobs.JobRun) {
	n.publish(ctx, job, redis.ProjectEvent{Type: redis.EventCompleted, Stage: "done", Progress: 100})
}

func (n *jobNotifier) publish(ctx context.Context, job *jobs.JobRun, ev redis.ProjectEvent) {
	if n == nil || n.bus == nil || job == nil || job.EntityType != entityProject || job.EntityID == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Detached so a cancelled run still reports its final state.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	ev.ProjectID = job.EntityID
	ev.JobID = job.ID
	if err := n.bus.Publish(pctx, ev); err != nil {
		n.log.Warn("Publish project event failed", "project_id", job.EntityID, "job_id", job.ID, "type", ev.Type, "error", err)
	}
}
