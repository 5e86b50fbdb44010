package jobrun

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	wf := &Workflows{Options: Options{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: time.Second}}
	env.RegisterWorkflowWithOptions(wf.Run, workflow.RegisterOptions{Name: WorkflowName})
	acts := &Activities{}
	env.RegisterActivityWithOptions(acts.Run, activity.RegisterOptions{Name: ActivityRun})
	return env
}

func TestWorkflowCompletes(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActivityRun, mock.Anything, "job-1").
		Return(RunResult{JobID: "job-1", Status: "succeeded", Stage: "completed", Progress: 100}, nil).Once()

	env.ExecuteWorkflow(WorkflowName, "job-1")
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var out RunResult
	if err := env.GetWorkflowResult(&out); err != nil || out.Status != "succeeded" {
		t.Fatalf("result: %+v err=%v", out, err)
	}
	env.AssertExpectations(t)
}

func TestWorkflowRetriesTransientActivityError(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActivityRun, mock.Anything, "job-2").
		Return(RunResult{}, errors.New("connection refused")).Once()
	env.OnActivity(ActivityRun, mock.Anything, "job-2").
		Return(RunResult{JobID: "job-2", Status: "succeeded"}, nil).Once()

	env.ExecuteWorkflow(WorkflowName, "job-2")
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	env.AssertExpectations(t)
}

func TestWorkflowStopsOnTerminalError(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActivityRun, mock.Anything, "job-3").
		Return(RunResult{}, temporal.NewNonRetryableApplicationError("empty output", ErrTypeTerminal, nil)).Once()

	env.ExecuteWorkflow(WorkflowName, "job-3")
	err := env.GetWorkflowError()
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || appErr.Type() != ErrTypeTerminal {
		t.Fatalf("expected terminal application error, got %v", err)
	}
	env.AssertExpectations(t)
}

func TestWorkflowReportsRecordedFailure(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActivityRun, mock.Anything, "job-4").
		Return(RunResult{JobID: "job-4", Status: "failed", Stage: "run", Error: "boom"}, nil).Once()

	env.ExecuteWorkflow(WorkflowName, "job-4")
	if err := env.GetWorkflowError(); err == nil {
		t.Fatalf("expected workflow error for a failed job")
	}
}
