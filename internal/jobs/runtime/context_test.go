package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	"github.com/yungbote/layered-backend/internal/data/repos/testutil"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/platform/ctxutil"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
)

type recordingNotifier struct {
	mu       sync.Mutex
	progress []int
	failed   []string
	done     int
}

func (n *recordingNotifier) JobProgress(_ context.Context, _ *jobs.JobRun, _ string, pct int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, pct)
}

func (n *recordingNotifier) JobFailed(_ context.Context, _ *jobs.JobRun, _ string, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, msg)
}

func (n *recordingNotifier) JobDone(context.Context, *jobs.JobRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.done++
}

func seedJob(t *testing.T, repo jobrepos.JobRunRepo) *jobs.JobRun {
	t.Helper()
	now := time.Now()
	job := &jobs.JobRun{
		ID:        uuid.NewString(),
		JobType:   "generate_project",
		Status:    jobs.StatusRunning,
		Stage:     "claimed",
		Payload:   datatypes.JSON([]byte(`{"project_id":"p1"}`)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := repo.Create(dbctx.Context{Ctx: context.Background()}, []*jobs.JobRun{job}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestContextTerminalWritesAreFinal(t *testing.T) {
	db := testutil.DB(t)
	repo := jobrepos.NewJobRunRepo(db, testutil.Logger(t))
	job := seedJob(t, repo)
	notify := &recordingNotifier{}
	jc := NewContext(context.Background(), db, job, repo, notify)

	jc.Progress("generate-layers", 10)
	jc.Succeed("completed", map[string]any{"layers": 3})
	jc.Fail("late", errors.New("should be ignored"))

	stored, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != jobs.StatusSucceeded || stored.Progress != 100 || stored.Error != "" {
		t.Fatalf("unexpected row: status=%s progress=%d error=%q", stored.Status, stored.Progress, stored.Error)
	}
	if len(notify.progress) != 1 || notify.done != 1 || len(notify.failed) != 0 {
		t.Fatalf("unexpected notifications: %+v", notify)
	}
}

func TestContextRetryRequeues(t *testing.T) {
	db := testutil.DB(t)
	repo := jobrepos.NewJobRunRepo(db, testutil.Logger(t))
	job := seedJob(t, repo)
	jc := NewContext(context.Background(), db, job, repo, nil)

	runAfter := time.Now().Add(time.Minute)
	jc.Retry("generate-layers", errors.New("upstream 503"), runAfter)

	stored, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != jobs.StatusQueued || stored.RunAfter == nil || stored.Error != "upstream 503" {
		t.Fatalf("unexpected row: %+v", stored)
	}
	var payload struct {
		ProjectID string `json:"project_id"`
	}
	if err := jc.DecodePayload(&payload); err != nil || payload.ProjectID != "p1" {
		t.Fatalf("DecodePayload: %+v %v", payload, err)
	}
	if td := ctxutil.GetTraceData(jc.Ctx); td == nil || td.JobID != job.ID {
		t.Fatalf("expected job id in trace data, got %+v", td)
	}
}
