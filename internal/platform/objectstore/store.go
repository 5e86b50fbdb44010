// Package objectstore is the durable byte store behind blob rows. Keys are blob
// ids; callers write the bytes before they insert the row that points at them.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yungbote/layered-backend/internal/platform/logger"
)

var ErrNotFound = errors.New("object not found")

// Store is the blob byte store. Put overwrites silently.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (*Object, error)
	Stat(ctx context.Context, key string) (*ObjectAttrs, error)
}

// Object is an open read of a stored key. The caller closes Body.
type Object struct {
	Body  io.ReadCloser
	Attrs ObjectAttrs
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

// New builds the backend selected by cfg.Mode.
func New(ctx context.Context, log *logger.Logger, cfg Config) (Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "ObjectStore")
	var (
		st  Store
		err error
	)
	switch cfg.Mode {
	case ModeGCS, ModeGCSEmulator:
		st, err = newGCSStore(ctx, serviceLog, cfg)
	case ModeS3:
		st, err = newS3Store(ctx, serviceLog, cfg)
	case ModeMemory:
		st = NewMemoryStore()
	}
	if err != nil {
		return nil, err
	}
	serviceLog.Info(
		"Object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"bucket", cfg.Bucket,
		"emulator_host", cfg.EmulatorHost,
		"s3_endpoint", cfg.S3Endpoint,
	)
	return st, nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("object key is required")
	}
	return nil
}

// ContentTypeForKey guesses an image content type from the key's extension.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	default:
		return ""
	}
}
