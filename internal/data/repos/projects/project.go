package projects

import (
	"errors"
	"time"

	"gorm.io/gorm"

	domain "github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/dbctx"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

type ProjectRepo interface {
	Create(dbc dbctx.Context, project *domain.Project) error
	GetByID(dbc dbctx.Context, id string) (*domain.Project, error)
	ListRecent(dbc dbctx.Context, limit int) ([]*domain.Project, error)
	SetName(dbc dbctx.Context, id string, name string) error
	// ListStaleProcessing returns projects still processing that were created before olderThan,
	// oldest first. Nothing in this module acts on the result; it is for operators.
	ListStaleProcessing(dbc dbctx.Context, olderThan time.Time, limit int) ([]*domain.Project, error)
}

type projectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectRepo(db *gorm.DB, baseLog *logger.Logger) ProjectRepo {
	return &projectRepo{
		db:  db,
		log: baseLog.With("repo", "ProjectRepo"),
	}
}

func (r *projectRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *projectRepo) Create(dbc dbctx.Context, project *domain.Project) error {
	if project == nil {
		return nil
	}
	return r.tx(dbc).Create(project).Error
}

func (r *projectRepo) GetByID(dbc dbctx.Context, id string) (*domain.Project, error) {
	if id == "" {
		return nil, nil
	}
	var p domain.Project
	err := r.tx(dbc).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepo) ListRecent(dbc dbctx.Context, limit int) ([]*domain.Project, error) {
	if limit <= 0 {
		limit = 6
	}
	var out []*domain.Project
	if err := r.tx(dbc).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *projectRepo) SetName(dbc dbctx.Context, id string, name string) error {
	return r.tx(dbc).
		Model(&domain.Project{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":       name,
			"updated_at": time.Now(),
		}).Error
}

func (r *projectRepo) ListStaleProcessing(dbc dbctx.Context, olderThan time.Time, limit int) ([]*domain.Project, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*domain.Project
	if err := r.tx(dbc).
		Where("status = ? AND created_at < ?", domain.StatusProcessing, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
