package runtime

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/platform/ctxutil"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
)

// Notifier receives job lifecycle events. Implementations must not block.
type Notifier interface {
	JobProgress(ctx context.Context, job *jobs.JobRun, stage string, pct int)
	JobFailed(ctx context.Context, job *jobs.JobRun, stage string, msg string)
	JobDone(ctx context.Context, job *jobs.JobRun)
}

/*
Context is the execution handle for a single job run. Handlers report progress
and terminal outcomes only through it, never by writing job_run directly.

Terminal rows are never overwritten: every write is guarded with
UpdateFieldsUnlessStatus(succeeded, failed).
*/
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *jobs.JobRun
	Repo   jobrepos.JobRunRepo
	Notify Notifier
}

var terminalStatuses = []string{jobs.StatusSucceeded, jobs.StatusFailed}

func NewContext(ctx context.Context, db *gorm.DB, job *jobs.JobRun, repo jobrepos.JobRunRepo, notify Notifier) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job != nil {
		td := ctxutil.TraceData{}
		if existing := ctxutil.GetTraceData(ctx); existing != nil {
			td = *existing
		}
		td.JobID = job.ID
		ctx = ctxutil.WithTraceData(ctx, &td)
	}
	return &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
}

// DecodePayload unmarshals Job.Payload into v.
func (c *Context) DecodePayload(v any) error {
	if c == nil || c.Job == nil || len(c.Job.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(c.Job.Payload, v)
}

func (c *Context) update(updates map[string]interface{}) bool {
	if c.Repo == nil || c.Job == nil || c.Job.ID == "" {
		return true
	}
	ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, terminalStatuses, updates)
	return ok
}

// Progress records a non-terminal stage and refreshes the heartbeat.
func (c *Context) Progress(stage string, pct int) {
	if c == nil {
		return
	}
	now := time.Now()
	if !c.update(map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobProgress(c.Ctx, c.Job, stage, pct)
	}
}

// Fail marks the run failed and clears its lock.
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if !c.update(map[string]interface{}{
		"status":        jobs.StatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobs.StatusFailed
		c.Job.Stage = stage
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobFailed(c.Ctx, c.Job, stage, msg)
	}
}

// Retry puts the run back in the queue until runAfter.
func (c *Context) Retry(stage string, err error, runAfter time.Time) {
	if c == nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if !c.update(map[string]interface{}{
		"status":        jobs.StatusQueued,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"run_after":     runAfter,
		"locked_at":     nil,
		"heartbeat_at":  nil,
		"updated_at":    now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobs.StatusQueued
		c.Job.Stage = stage
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.RunAfter = &runAfter
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = nil
		c.Job.UpdatedAt = now
	}
}

// Succeed marks the run succeeded and stores result as JSON.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	if !c.update(map[string]interface{}{
		"status":       jobs.StatusSucceeded,
		"stage":        finalStage,
		"progress":     100,
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobs.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobDone(c.Ctx, c.Job)
	}
}
