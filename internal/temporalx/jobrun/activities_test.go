package jobrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"gorm.io/datatypes"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	"github.com/yungbote/layered-backend/internal/data/repos/testutil"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/jobs/orchestrator"
	jobrt "github.com/yungbote/layered-backend/internal/jobs/runtime"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
)

type stubHandler struct {
	err error
}

func (stubHandler) Type() string               { return "generate_project" }
func (h stubHandler) Run(*jobrt.Context) error { return h.err }

func runActivity(t *testing.T, handlerErr error) (*jobs.JobRun, RunResult, error) {
	t.Helper()
	db := testutil.DB(t)
	repo := jobrepos.NewJobRunRepo(db, testutil.Logger(t))
	reg := jobrt.NewRegistry()
	if err := reg.Register(stubHandler{err: handlerErr}); err != nil {
		t.Fatalf("register: %v", err)
	}
	now := time.Now()
	job := &jobs.JobRun{
		ID:        uuid.NewString(),
		JobType:   "generate_project",
		Status:    jobs.StatusQueued,
		Stage:     "queued",
		Payload:   datatypes.JSON([]byte(`{}`)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := repo.Create(dbctx.Context{Ctx: context.Background()}, []*jobs.JobRun{job}); err != nil {
		t.Fatalf("create job: %v", err)
	}

	acts := &Activities{Log: testutil.Logger(t), DB: db, Jobs: repo, Registry: reg, MaxAttempts: 3}
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(acts.Run)

	var out RunResult
	val, err := env.ExecuteActivity(acts.Run, job.ID)
	if err == nil {
		if gerr := val.Get(&out); gerr != nil {
			t.Fatalf("decode result: %v", gerr)
		}
	}
	stored, lerr := repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	if lerr != nil || stored == nil {
		t.Fatalf("reload job: %v", lerr)
	}
	return stored, out, err
}

func TestActivitySucceeds(t *testing.T) {
	stored, out, err := runActivity(t, nil)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if stored.Status != jobs.StatusSucceeded || out.Status != jobs.StatusSucceeded || stored.Attempts != 1 {
		t.Fatalf("stored=%s out=%s attempts=%d", stored.Status, out.Status, stored.Attempts)
	}
}

func TestActivityTerminalErrorIsNonRetryable(t *testing.T) {
	stored, _, err := runActivity(t, orchestrator.Permanent(errors.New("no images")))
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || !appErr.NonRetryable() {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
	if stored.Status != jobs.StatusFailed || stored.Error != "no images" {
		t.Fatalf("stored: status=%s error=%q", stored.Status, stored.Error)
	}
}

func TestActivityTransientErrorLeavesJobRunning(t *testing.T) {
	stored, _, err := runActivity(t, errors.New("upstream 503"))
	if err == nil {
		t.Fatalf("expected error")
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.NonRetryable() {
		t.Fatalf("transient error must stay retryable: %v", err)
	}
	if stored.Status != jobs.StatusRunning {
		t.Fatalf("status: %s", stored.Status)
	}
}
