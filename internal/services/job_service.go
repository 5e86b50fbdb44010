package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/jobs/runtime"
	"github.com/yungbote/layered-backend/internal/platform/ctxutil"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

// Dispatcher hands a committed job to its scheduler. Poll mode has none: the
// worker pool finds queued rows on its own.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

type JobService interface {
	// Enqueue inserts a queued job_run row. Inside a transaction the caller must
	// call Dispatch after commit; outside one it dispatches immediately.
	Enqueue(dbc dbctx.Context, jobType, entityType, entityID string, payload any) (*jobs.JobRun, error)
	Dispatch(ctx context.Context, jobID string) error
	GetLatestForEntity(dbc dbctx.Context, entityType, entityID, jobType string) (*jobs.JobRun, error)
}

type jobService struct {
	db         *gorm.DB
	log        *logger.Logger
	repo       jobrepos.JobRunRepo
	notify     runtime.Notifier
	dispatcher Dispatcher
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo jobrepos.JobRunRepo, notify runtime.Notifier, dispatcher Dispatcher) JobService {
	return &jobService{
		db:         db,
		log:        baseLog.With("service", "JobService"),
		repo:       repo,
		notify:     notify,
		dispatcher: dispatcher,
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, jobType, entityType, entityID string, payload any) (*jobs.JobRun, error) {
	if strings.TrimSpace(jobType) == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if dbc.Ctx == nil {
		dbc.Ctx = context.Background()
	}
	raw, err := encodePayload(dbc.Ctx, payload)
	if err != nil {
		return nil, err
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	now := time.Now()
	job := &jobs.JobRun{
		ID:         uuid.NewString(),
		JobType:    jobType,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     jobs.StatusQueued,
		Stage:      "queued",
		Payload:    raw,
		Result:     datatypes.JSON([]byte(`{}`)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.repo.Create(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, []*jobs.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	// gorm.DB pointers are cloned freely, so pointer inequality does not detect
	// a transaction. Look at the connection instead.
	if isDBTransaction(dbc.Tx) {
		s.log.Debug("Job enqueued inside transaction; awaiting dispatch after commit", "job_id", job.ID, "job_type", job.JobType)
		return job, nil
	}
	if err := s.Dispatch(dbc.Ctx, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

// encodePayload marshals payload and stamps the request's trace ids on object payloads.
func encodePayload(ctx context.Context, payload any) (datatypes.JSON, error) {
	if payload == nil {
		return datatypes.JSON([]byte(`{}`)), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	td := ctxutil.GetTraceData(ctx)
	if td == nil || (td.TraceID == "" && td.RequestID == "") {
		return datatypes.JSON(b), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil || obj == nil {
		return datatypes.JSON(b), nil
	}
	if _, ok := obj["trace_id"]; !ok && td.TraceID != "" {
		obj["trace_id"] = td.TraceID
	}
	if _, ok := obj["request_id"]; !ok && td.RequestID != "" {
		obj["request_id"] = td.RequestID
	}
	b, err = json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return datatypes.JSON(b), nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

func (s *jobService) Dispatch(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("missing job id")
	}
	if s.dispatcher == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.dispatcher.Dispatch(ctx, jobID)
	if err == nil {
		return nil
	}

	// Nothing else will pick the row up, so record why it never ran.
	now := time.Now()
	_, _ = s.repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, jobID,
		[]string{jobs.StatusSucceeded, jobs.StatusFailed},
		map[string]interface{}{
			"status":        jobs.StatusFailed,
			"stage":         "dispatch",
			"error":         err.Error(),
			"last_error_at": now,
			"locked_at":     nil,
		})
	if s.notify != nil {
		if job, rerr := s.repo.GetByID(dbctx.Context{Ctx: ctx}, jobID); rerr == nil && job != nil {
			s.notify.JobFailed(ctx, job, "dispatch", err.Error())
		}
	}
	s.log.Error("Job dispatch failed", "job_id", jobID, "error", err)
	return fmt.Errorf("dispatch job %s: %w", jobID, err)
}

func (s *jobService) GetLatestForEntity(dbc dbctx.Context, entityType, entityID, jobType string) (*jobs.JobRun, error) {
	return s.repo.GetLatestByEntity(dbc, entityType, entityID, jobType)
}
