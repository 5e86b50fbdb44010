package jobrun

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflows holds worker-side settings for the job workflow. The workflow id is
// the job id, so one job_run row maps to at most one open execution.
type Workflows struct {
	Options Options
}

func (w *Workflows) Run(ctx workflow.Context, jobID string) (RunResult, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return RunResult{}, temporal.NewNonRetryableApplicationError("jobrun: missing job_id", ErrTypeTerminal, nil)
	}
	opts := w.Options.withDefaults()
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: opts.Timeout,
		HeartbeatTimeout:    opts.Heartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        opts.InitialInterval,
			BackoffCoefficient:     2.0,
			MaximumInterval:        opts.MaxInterval,
			MaximumAttempts:        opts.MaxAttempts,
			NonRetryableErrorTypes: []string{ErrTypeTerminal},
		},
	})

	var out RunResult
	if err := workflow.ExecuteActivity(ctx, ActivityRun, jobID).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Error("job run failed", "job_id", jobID, "error", err)
		return out, err
	}
	if out.Status == "failed" {
		return out, fmt.Errorf("job %s failed at stage %s: %s", jobID, out.Stage, out.Error)
	}
	return out, nil
}
