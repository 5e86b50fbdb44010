package jobrun

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/layered-backend/internal/platform/logger"
)

// Dispatcher starts the workflow for a committed job_run row.
type Dispatcher struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	taskQueue string
}

func NewDispatcher(log *logger.Logger, tc temporalsdkclient.Client, taskQueue string) *Dispatcher {
	return &Dispatcher{log: log.With("component", "TemporalDispatcher"), tc: tc, taskQueue: taskQueue}
}

// Dispatch is idempotent: a second call for the same job id is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) error {
	if d == nil || d.tc == nil {
		return fmt.Errorf("temporal dispatcher not configured")
	}
	run, err := d.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID,
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, WorkflowName, jobID)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			d.log.Debug("Workflow already started", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("start workflow for job %s: %w", jobID, err)
	}
	d.log.Info("Workflow started", "job_id", jobID, "run_id", run.GetRunID())
	return nil
}
