package projects

import (
	"gorm.io/gorm"

	domain "github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

type PredictionBlobRepo interface {
	Create(dbc dbctx.Context, link *domain.PredictionBlob) error
	// ListBlobs returns blobs linked to predictionID with role, ordered by position.
	ListBlobs(dbc dbctx.Context, predictionID string, role domain.Role) ([]*domain.BlobWithLink, error)
	CountByRole(dbc dbctx.Context, predictionID string, role domain.Role) (int64, error)
}

type predictionBlobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPredictionBlobRepo(db *gorm.DB, baseLog *logger.Logger) PredictionBlobRepo {
	return &predictionBlobRepo{
		db:  db,
		log: baseLog.With("repo", "PredictionBlobRepo"),
	}
}

func (r *predictionBlobRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *predictionBlobRepo) Create(dbc dbctx.Context, link *domain.PredictionBlob) error {
	if link == nil {
		return nil
	}
	return r.tx(dbc).Create(link).Error
}

func (r *predictionBlobRepo) ListBlobs(dbc dbctx.Context, predictionID string, role domain.Role) ([]*domain.BlobWithLink, error) {
	var out []*domain.BlobWithLink
	if predictionID == "" {
		return out, nil
	}
	err := r.tx(dbc).
		Table("prediction_blob AS pb").
		Select("b.*, pb.role AS role, pb.position AS position").
		Joins("JOIN blob AS b ON b.id = pb.blob_id").
		Where("pb.prediction_id = ? AND pb.role = ?", predictionID, role).
		Order("pb.position ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *predictionBlobRepo) CountByRole(dbc dbctx.Context, predictionID string, role domain.Role) (int64, error) {
	var count int64
	err := r.tx(dbc).
		Model(&domain.PredictionBlob{}).
		Where("prediction_id = ? AND role = ?", predictionID, role).
		Count(&count).Error
	return count, err
}
