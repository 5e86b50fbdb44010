package app

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaultsToPollWithoutTemporal(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "")
	t.Setenv("JOB_DISPATCH_MODE", "")
	t.Setenv("PUBLIC_BASE_URL", "https://api.layered.test/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test, ,https://b.test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DispatchMode != DispatchPoll {
		t.Fatalf("expected poll mode, got %q", cfg.DispatchMode)
	}
	if cfg.PublicBaseURL != "https://api.layered.test" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.PublicBaseURL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.StepMaxAttempts != 3 || cfg.StepMinBackoff != time.Second || cfg.UploadConcurrency != 4 {
		t.Fatalf("unexpected step defaults %+v", cfg)
	}
}

func TestLoadConfigPicksTemporalWhenAddressSet(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "localhost:7233")
	t.Setenv("JOB_DISPATCH_MODE", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DispatchMode != DispatchTemporal {
		t.Fatalf("expected temporal mode, got %q", cfg.DispatchMode)
	}
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"temporal without address", map[string]string{"JOB_DISPATCH_MODE": "temporal", "TEMPORAL_ADDRESS": ""}, "TEMPORAL_ADDRESS"},
		{"unknown mode", map[string]string{"JOB_DISPATCH_MODE": "cron"}, "unsupported"},
		{"zero attempts", map[string]string{"STEP_MAX_ATTEMPTS": "0"}, "STEP_MAX_ATTEMPTS"},
		{"inverted backoff", map[string]string{"STEP_MIN_BACKOFF": "1m", "STEP_MAX_BACKOFF": "1s"}, "STEP_MIN_BACKOFF"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEMPORAL_ADDRESS", "")
			t.Setenv("JOB_DISPATCH_MODE", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
