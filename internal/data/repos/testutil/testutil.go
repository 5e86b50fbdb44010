package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/layered-backend/internal/data/db"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg = logger.NewNop()
	})
	return logg
}

// DB opens a private in-memory SQLite database with every table migrated.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	path := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])
	svc, err := db.NewSQLiteService(Logger(tb), path)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := svc.AutoMigrateAll(); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	sqlDB, err := svc.DB().DB()
	if err != nil {
		tb.Fatalf("sqlite pool: %v", err)
	}
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return svc.DB()
}
