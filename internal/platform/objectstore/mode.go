package objectstore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/layered-backend/internal/platform/envutil"
)

type Mode string

const (
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
	ModeS3          Mode = "s3"
	ModeMemory      Mode = "memory"
)

type Config struct {
	Mode                  Mode
	Bucket                string
	EmulatorHost          string
	S3Endpoint            string
	S3Region              string
	S3AccessKeyID         string
	S3SecretAccessKey     string
	CompatibilityFallback bool
}

func IsSupportedMode(mode Mode) bool {
	switch mode {
	case ModeGCS, ModeGCSEmulator, ModeS3, ModeMemory:
		return true
	default:
		return false
	}
}

func (cfg Config) IsEmulatorMode() bool {
	return cfg.Mode == ModeGCSEmulator
}

func (cfg Config) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEndpoint     ConfigErrorCode = "invalid_endpoint"
)

type ConfigError struct {
	Code     ConfigErrorCode
	Mode     string
	Endpoint string
	Cause    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q, %q, %q)",
			e.Mode, ModeGCS, ModeGCSEmulator, ModeS3, ModeMemory)
	case ConfigErrorMissingBucket:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires BLOB_BUCKET_NAME to be set", e.Mode)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", ModeGCSEmulator)
	case ConfigErrorInvalidEndpoint:
		return fmt.Sprintf("invalid endpoint %q; expected absolute URL like http://minio:9000", e.Endpoint)
	default:
		return "invalid object storage config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ResolveConfigFromEnv reads OBJECT_STORAGE_MODE and the backend settings. An
// unset mode falls back to the emulator when STORAGE_EMULATOR_HOST is present.
func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		Bucket:            envutil.String("BLOB_BUCKET_NAME", ""),
		EmulatorHost:      envutil.String("STORAGE_EMULATOR_HOST", ""),
		S3Endpoint:        envutil.String("S3_ENDPOINT", ""),
		S3Region:          envutil.String("S3_REGION", "us-east-1"),
		S3AccessKeyID:     envutil.String("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: envutil.String("S3_SECRET_ACCESS_KEY", ""),
	}

	rawMode := envutil.String("OBJECT_STORAGE_MODE", "")
	mode := Mode(strings.ToLower(rawMode))
	switch {
	case mode == "" && cfg.EmulatorHost != "":
		cfg.Mode = ModeGCSEmulator
		cfg.CompatibilityFallback = true
	case mode == "":
		cfg.Mode = ModeGCS
	case IsSupportedMode(mode):
		cfg.Mode = mode
	default:
		return cfg, &ConfigError{Code: ConfigErrorInvalidMode, Mode: rawMode}
	}

	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if !IsSupportedMode(cfg.Mode) {
		return &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
	if cfg.Mode == ModeMemory {
		return nil
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return &ConfigError{Code: ConfigErrorMissingBucket, Mode: string(cfg.Mode)}
	}
	if cfg.IsEmulatorMode() {
		if cfg.EmulatorHost == "" {
			return &ConfigError{Code: ConfigErrorMissingEmulatorHost, Mode: string(cfg.Mode)}
		}
		return validateEndpoint(cfg.Mode, cfg.EmulatorHost)
	}
	if cfg.Mode == ModeS3 && cfg.S3Endpoint != "" {
		return validateEndpoint(cfg.Mode, cfg.S3Endpoint)
	}
	return nil
}

func validateEndpoint(mode Mode, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return &ConfigError{Code: ConfigErrorInvalidEndpoint, Mode: string(mode), Endpoint: raw, Cause: err}
	}
	return nil
}
