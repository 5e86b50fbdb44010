package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/layered-backend/internal/clients/assets"
	"github.com/yungbote/layered-backend/internal/clients/fal"
	"github.com/yungbote/layered-backend/internal/clients/openai"
	"github.com/yungbote/layered-backend/internal/jobs/worker"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/services"
	"github.com/yungbote/layered-backend/internal/temporalx"
)

const (
	DispatchTemporal = "temporal"
	DispatchPoll     = "poll"
)

type Config struct {
	LogMode       string
	Port          string
	PublicBaseURL string
	CORSOrigins   []string

	DBDriver   string
	SQLitePath string
	RedisAddr  string

	// DispatchMode picks who runs queued jobs: Temporal workflows or the
	// in-process poll worker.
	DispatchMode      string
	UploadConcurrency int
	StepMaxAttempts   int
	StepMinBackoff    time.Duration
	StepMaxBackoff    time.Duration
	StepPolicyFile    string

	Temporal temporalx.Config
	Worker   worker.Config
	Fal      fal.Config
	Caption  openai.Config
	Assets   assets.Config
	Stale    services.StaleReportConfig
	Otel     observability.OtelConfig
}

func LoadConfig() (Config, error) {
	cfg := Config{
		LogMode:       envutil.String("LOG_MODE", "development"),
		Port:          envutil.String("PORT", "8080"),
		PublicBaseURL: strings.TrimRight(envutil.String("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		CORSOrigins:   splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),

		DBDriver:   envutil.String("DB_DRIVER", "postgres"),
		SQLitePath: envutil.String("SQLITE_PATH", "layered.db"),
		RedisAddr:  envutil.String("REDIS_ADDR", ""),

		DispatchMode:      strings.ToLower(envutil.String("JOB_DISPATCH_MODE", "")),
		UploadConcurrency: envutil.Int("UPLOAD_CONCURRENCY", 4),
		StepMaxAttempts:   envutil.Int("STEP_MAX_ATTEMPTS", 3),
		StepMinBackoff:    envutil.Duration("STEP_MIN_BACKOFF", time.Second),
		StepMaxBackoff:    envutil.Duration("STEP_MAX_BACKOFF", 30*time.Second),
		StepPolicyFile:    envutil.String("STEP_POLICY_FILE", ""),

		Temporal: temporalx.LoadConfig(),
		Worker:   worker.ConfigFromEnv(),
		Fal:      fal.ConfigFromEnv(),
		Caption:  openai.ConfigFromEnv(),
		Assets:   assets.ConfigFromEnv(),
		Stale:    services.StaleReportConfigFromEnv(),
		Otel: observability.OtelConfig{
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "layered-api"),
			Environment: envutil.String("APP_ENV", "development"),
			Version:     envutil.String("APP_VERSION", "dev"),
		},
	}

	if cfg.DispatchMode == "" {
		cfg.DispatchMode = DispatchPoll
		if cfg.Temporal.Enabled() {
			cfg.DispatchMode = DispatchTemporal
		}
	}
	switch cfg.DispatchMode {
	case DispatchPoll:
	case DispatchTemporal:
		if !cfg.Temporal.Enabled() {
			return cfg, fmt.Errorf("JOB_DISPATCH_MODE=temporal requires TEMPORAL_ADDRESS")
		}
	default:
		return cfg, fmt.Errorf("unsupported JOB_DISPATCH_MODE %q", cfg.DispatchMode)
	}
	if cfg.StepMaxAttempts < 1 {
		return cfg, fmt.Errorf("STEP_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.StepMinBackoff > cfg.StepMaxBackoff {
		return cfg, fmt.Errorf("STEP_MIN_BACKOFF %s exceeds STEP_MAX_BACKOFF %s", cfg.StepMinBackoff, cfg.StepMaxBackoff)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
