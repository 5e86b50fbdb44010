package assets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

const upstream = "assets"

type Config struct {
	Timeout  time.Duration
	MaxBytes int64
}

func ConfigFromEnv() Config {
	return Config{
		Timeout:  envutil.Duration("ASSET_FETCH_TIMEOUT", 60*time.Second),
		MaxBytes: int64(envutil.Int("ASSET_FETCH_MAX_BYTES", 64<<20)),
	}
}

type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *FetchError) HTTPStatusCode() int { return e.StatusCode }

var (
	ErrEmptyBody = errors.New("asset body is empty")
	ErrTooLarge  = errors.New("asset exceeds size limit")
)

// Fetcher downloads generated assets from the inference CDN.
type Fetcher struct {
	log     *logger.Logger
	http    *resty.Client
	cfg     Config
	metrics *observability.Metrics
}

func NewFetcher(log *logger.Logger, cfg Config, metrics *observability.Metrics) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	return &Fetcher{
		log:     log.With("service", "AssetFetcher"),
		http:    resty.New().SetTimeout(cfg.Timeout),
		cfg:     cfg,
		metrics: metrics,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	resp, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		f.metrics.ObserveUpstream(upstream, "get", "error", time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	f.metrics.ObserveUpstream(upstream, "get", strconv.Itoa(resp.StatusCode()), time.Since(start))
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode()}
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", url, ErrEmptyBody)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("fetch %s: %w (%d bytes)", url, ErrTooLarge, len(body))
	}
	return body, nil
}
