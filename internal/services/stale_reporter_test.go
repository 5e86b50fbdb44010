package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	rsgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/layered-backend/internal/data/repos/testutil"
	"github.com/yungbote/layered-backend/internal/domain/projects"
)

func seedProject(t *testing.T, f *fixture, status projects.Status, age time.Duration) *projects.Project {
	t.Helper()
	p := &projects.Project{ID: uuid.NewString(), Status: status, CreatedAt: time.Now().Add(-age)}
	if err := f.db.Create(p).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func TestStaleReporterCountsOnlyOldProcessingProjects(t *testing.T) {
	f := newFixture(t)
	stale := seedProject(t, f, projects.StatusProcessing, 3*time.Hour)
	seedProject(t, f, projects.StatusProcessing, time.Minute)
	seedProject(t, f, projects.StatusCompleted, 5*time.Hour)

	r := NewStaleReporter(testutil.Logger(t), f.projects, nil, nil, StaleReportConfig{OlderThan: time.Hour})
	n, err := r.ReportOnce(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale project, got %d", n)
	}

	got, err := f.projects.ListStale(context.Background(), time.Hour, 10)
	if err != nil || len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("expected %s, got %+v (%v)", stale.ID, got, err)
	}
	// Reporting never touches the rows.
	if got[0].Status != projects.StatusProcessing {
		t.Fatalf("stale project was modified: %s", got[0].Status)
	}
}

func TestStaleReporterTickSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	r := NewStaleReporter(testutil.Logger(t), f.projects, nil, rdb, StaleReportConfig{OlderThan: time.Hour, LockTTL: 10 * time.Second})
	if !r.Tick(ctx) {
		t.Fatalf("expected tick to run with a free lock")
	}
	if !r.Tick(ctx) {
		t.Fatalf("lock must be released after a tick")
	}

	other := redsync.New(rsgoredis.NewPool(rdb)).NewMutex(staleReportLock, redsync.WithExpiry(10*time.Second))
	if err := other.LockContext(ctx); err != nil {
		t.Fatalf("take lock: %v", err)
	}
	if r.Tick(ctx) {
		t.Fatalf("tick must skip while another replica holds the lock")
	}
	if _, err := other.UnlockContext(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !r.Tick(ctx) {
		t.Fatalf("expected tick to run once the lock is free")
	}
}

func TestStaleReporterRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	r := NewStaleReporter(testutil.Logger(t), f.projects, nil, nil, StaleReportConfig{Schedule: "not a cron"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err == nil {
		t.Fatalf("expected schedule parse error")
	}
	if err := NewStaleReporter(testutil.Logger(t), f.projects, nil, nil, StaleReportConfig{}).Start(ctx); err != nil {
		t.Fatalf("empty schedule must be a no-op: %v", err)
	}
}
