package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// projects
		&projects.Project{},
		&projects.Prediction{},
		&projects.Blob{},
		&projects.PredictionBlob{},

		// jobs
		&jobs.JobRun{},
		&jobs.StepCheckpoint{},
	)
}

// Service is what callers need from either backend.
type Service interface {
	DB() *gorm.DB
	AutoMigrateAll() error
}

// Open picks the backend by driver name ("postgres" or "sqlite").
func Open(log *logger.Logger, driver, sqlitePath string) (Service, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "postgresql":
		return NewPostgresService(log)
	case "sqlite", "sqlite3":
		return NewSQLiteService(log, sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// IsPostgres reports whether db talks to Postgres. Row locking clauses are only
// emitted there.
func IsPostgres(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres"
}
