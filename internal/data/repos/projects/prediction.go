package projects

import (
	"errors"
	"time"

	"gorm.io/gorm"

	domain "github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

type PredictionRepo interface {
	Create(dbc dbctx.Context, prediction *domain.Prediction) error
	GetByID(dbc dbctx.Context, id string) (*domain.Prediction, error)
	GetLatestByProject(dbc dbctx.Context, projectID string) (*domain.Prediction, error)
	SetOutput(dbc dbctx.Context, id string, output []byte) error
}

type predictionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPredictionRepo(db *gorm.DB, baseLog *logger.Logger) PredictionRepo {
	return &predictionRepo{
		db:  db,
		log: baseLog.With("repo", "PredictionRepo"),
	}
}

func (r *predictionRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *predictionRepo) Create(dbc dbctx.Context, prediction *domain.Prediction) error {
	if prediction == nil {
		return nil
	}
	return r.tx(dbc).Create(prediction).Error
}

func (r *predictionRepo) GetByID(dbc dbctx.Context, id string) (*domain.Prediction, error) {
	if id == "" {
		return nil, nil
	}
	var p domain.Prediction
	err := r.tx(dbc).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *predictionRepo) GetLatestByProject(dbc dbctx.Context, projectID string) (*domain.Prediction, error) {
	if projectID == "" {
		return nil, nil
	}
	var out []*domain.Prediction
	if err := r.tx(dbc).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *predictionRepo) SetOutput(dbc dbctx.Context, id string, output []byte) error {
	res := r.tx(dbc).
		Model(&domain.Prediction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"output":     string(output),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
