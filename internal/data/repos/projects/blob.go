package projects

import (
	"errors"

	"gorm.io/gorm"

	domain "github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

type BlobRepo interface {
	Create(dbc dbctx.Context, blob *domain.Blob) error
	GetByID(dbc dbctx.Context, id string) (*domain.Blob, error)
	Exists(dbc dbctx.Context, id string) (bool, error)
}

type blobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBlobRepo(db *gorm.DB, baseLog *logger.Logger) BlobRepo {
	return &blobRepo{
		db:  db,
		log: baseLog.With("repo", "BlobRepo"),
	}
}

func (r *blobRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *blobRepo) Create(dbc dbctx.Context, blob *domain.Blob) error {
	if blob == nil {
		return nil
	}
	return r.tx(dbc).Create(blob).Error
}

func (r *blobRepo) GetByID(dbc dbctx.Context, id string) (*domain.Blob, error) {
	if id == "" {
		return nil, nil
	}
	var b domain.Blob
	err := r.tx(dbc).Where("id = ?", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *blobRepo) Exists(dbc dbctx.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var count int64
	if err := r.tx(dbc).Model(&domain.Blob{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
