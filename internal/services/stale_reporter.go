package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

const staleReportLock = "layered:stale-report"

type StaleReportConfig struct {
	// Schedule is a standard five field cron expression. Empty disables the schedule.
	Schedule  string
	OlderThan time.Duration
	Limit     int
	LockTTL   time.Duration
}

func StaleReportConfigFromEnv() StaleReportConfig {
	return StaleReportConfig{
		Schedule:  strings.TrimSpace(envutil.String("STALE_REPORT_CRON", "")),
		OlderThan: envutil.Duration("STALE_AFTER", time.Hour),
		Limit:     envutil.Int("STALE_REPORT_LIMIT", 200),
		LockTTL:   envutil.Duration("STALE_REPORT_LOCK_TTL", time.Minute),
	}
}

// StaleReporter periodically logs and gauges projects stuck in processing. It
// only reads; recovering a stuck project is left to operators.
type StaleReporter struct {
	log      *logger.Logger
	projects ProjectService
	metrics  *observability.Metrics
	cfg      StaleReportConfig
	mutex    *redsync.Mutex
	cron     *cron.Cron
}

// NewStaleReporter builds a reporter. With a nil rdb every replica reports on
// its own schedule.
func NewStaleReporter(baseLog *logger.Logger, projects ProjectService, metrics *observability.Metrics, rdb goredis.UniversalClient, cfg StaleReportConfig) *StaleReporter {
	if cfg.OlderThan <= 0 {
		cfg.OlderThan = time.Hour
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	r := &StaleReporter{
		log:      baseLog.With("service", "StaleReporter"),
		projects: projects,
		metrics:  metrics,
		cfg:      cfg,
	}
	if rdb != nil {
		rs := redsync.New(rsgoredis.NewPool(rdb))
		r.mutex = rs.NewMutex(staleReportLock, redsync.WithExpiry(cfg.LockTTL), redsync.WithTries(1))
	}
	return r
}

// ReportOnce lists stale projects, logs each one and updates the gauge.
func (r *StaleReporter) ReportOnce(ctx context.Context) (int, error) {
	stale, err := r.projects.ListStale(ctx, r.cfg.OlderThan, r.cfg.Limit)
	if err != nil {
		return 0, fmt.Errorf("list stale projects: %w", err)
	}
	for _, p := range stale {
		r.log.Warn("Project stuck in processing",
			"project_id", p.ID,
			"created_at", p.CreatedAt,
			"age", time.Since(p.CreatedAt).Round(time.Second).String(),
		)
	}
	r.metrics.SetStaleProjects(len(stale))
	return len(stale), nil
}

// Tick runs one scheduled report if this replica wins the lock. It reports
// whether the report ran.
func (r *StaleReporter) Tick(ctx context.Context) bool {
	if r.mutex != nil {
		if err := r.mutex.TryLockContext(ctx); err != nil {
			r.log.Debug("Stale report skipped, lock held elsewhere", "error", err)
			return false
		}
		defer func() {
			if _, err := r.mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("Release stale report lock failed", "error", err)
			}
		}()
	}
	n, err := r.ReportOnce(ctx)
	if err != nil {
		r.log.Error("Stale report failed", "error", err)
		return true
	}
	r.log.Info("Stale report done", "stale", n, "older_than", r.cfg.OlderThan.String())
	return true
}

// Start schedules Tick until ctx is done. It is a no-op without a schedule.
func (r *StaleReporter) Start(ctx context.Context) error {
	if r.cfg.Schedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.Schedule, func() { r.Tick(ctx) }); err != nil {
		return fmt.Errorf("parse STALE_REPORT_CRON %q: %w", r.cfg.Schedule, err)
	}
	r.cron = c
	c.Start()
	r.log.Info("Stale report scheduled", "cron", r.cfg.Schedule, "older_than", r.cfg.OlderThan.String())
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
