package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/layered-backend/internal/platform/logger"
)

// SQLiteService backs local development and tests. SQLite allows one writer at a
// time, so the pool is pinned to a single connection.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(logg *logger.Logger, path string) (*SQLiteService, error) {
	if path == "" {
		path = "layered.db"
	}
	dsn := path
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	serviceLog := logg.With("service", "SQLiteService")
	serviceLog.Info("SQLite opened", "path", path)
	return &SQLiteService{db: db, log: serviceLog}, nil
}

func (s *SQLiteService) DB() *gorm.DB { return s.db }

func (s *SQLiteService) AutoMigrateAll() error {
	return AutoMigrateAll(s.db)
}
