package jobs

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

// StepCheckpointRepo persists step results keyed by (job_id, step_name).
// The first write for a key wins; later writes for the same key are dropped.
type StepCheckpointRepo interface {
	Get(dbc dbctx.Context, jobID, stepName string) (json.RawMessage, bool, error)
	Put(dbc dbctx.Context, jobID, stepName string, result json.RawMessage) error
	ListByJob(dbc dbctx.Context, jobID string) ([]*types.StepCheckpoint, error)
}

type stepCheckpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStepCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) StepCheckpointRepo {
	return &stepCheckpointRepo{
		db:  db,
		log: baseLog.With("repo", "StepCheckpointRepo"),
	}
}

func (r *stepCheckpointRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *stepCheckpointRepo) Get(dbc dbctx.Context, jobID, stepName string) (json.RawMessage, bool, error) {
	var rows []*types.StepCheckpoint
	if err := r.tx(dbc).
		Where("job_id = ? AND step_name = ?", jobID, stepName).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return json.RawMessage(rows[0].Result), true, nil
}

func (r *stepCheckpointRepo) Put(dbc dbctx.Context, jobID, stepName string, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	row := &types.StepCheckpoint{
		JobID:     jobID,
		StepName:  stepName,
		Result:    datatypes.JSON(result),
		CreatedAt: time.Now(),
	}
	return r.tx(dbc).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
}

func (r *stepCheckpointRepo) ListByJob(dbc dbctx.Context, jobID string) ([]*types.StepCheckpoint, error) {
	var out []*types.StepCheckpoint
	if err := r.tx(dbc).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
