package fal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yungbote/layered-backend/internal/domain/projects"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

const (
	DefaultBaseURL = "https://queue.fal.run"
	upstream       = "fal"
)

type Config struct {
	Key          string
	BaseURL      string
	EndpointID   string
	PollInterval time.Duration
	// RequestTimeout bounds each HTTP call, not the whole queued request.
	RequestTimeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Key:            envutil.String("FAL_KEY", ""),
		BaseURL:        envutil.String("FAL_BASE_URL", DefaultBaseURL),
		EndpointID:     envutil.String("FAL_ENDPOINT_ID", projects.EndpointImageLayered),
		PollInterval:   envutil.Duration("FAL_POLL_INTERVAL", time.Second),
		RequestTimeout: envutil.Duration("FAL_REQUEST_TIMEOUT", 30*time.Second),
	}
}

// APIError is a non-2xx answer from the queue API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

var ErrRequestFailed = errors.New("fal request failed")

// Client talks to the fal queue API: submit, poll status, fetch the result.
type Client struct {
	log     *logger.Logger
	http    *resty.Client
	cfg     Config
	metrics *observability.Metrics
}

func New(log *logger.Logger, cfg Config, metrics *observability.Metrics) (*Client, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("missing FAL_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EndpointID == "" {
		cfg.EndpointID = projects.EndpointImageLayered
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	hc := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Authorization", "Key "+cfg.Key).
		SetHeader("Accept", "application/json")
	return &Client{
		log:     log.With("client", "FalClient", "endpoint_id", cfg.EndpointID),
		http:    hc,
		cfg:     cfg,
		metrics: metrics,
	}, nil
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Error         string `json:"error,omitempty"`
}

// GenerateLayers submits the image and blocks until the queued request finishes.
// It returns the raw result body; validation is left to the caller.
func (c *Client) GenerateLayers(ctx context.Context, in projects.PredictionInput) (json.RawMessage, error) {
	var sub submitResponse
	if _, err := c.call(ctx, "submit", http.MethodPost, c.cfg.BaseURL+"/"+c.cfg.EndpointID, in, &sub); err != nil {
		return nil, err
	}
	if sub.RequestID == "" {
		return nil, fmt.Errorf("%w: submit returned no request_id", ErrRequestFailed)
	}
	statusURL := sub.StatusURL
	if statusURL == "" {
		statusURL = c.requestURL(sub.RequestID) + "/status"
	}
	responseURL := sub.ResponseURL
	if responseURL == "" {
		responseURL = c.requestURL(sub.RequestID)
	}
	log := c.log.With("request_id", sub.RequestID)
	log.Debug("fal request submitted")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		var st statusResponse
		if _, err := c.call(ctx, "status", http.MethodGet, statusURL, nil, &st); err != nil {
			return nil, err
		}
		switch strings.ToUpper(st.Status) {
		case "COMPLETED":
			if st.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrRequestFailed, st.Error)
			}
			raw, err := c.call(ctx, "result", http.MethodGet, responseURL, nil, nil)
			if err != nil {
				return nil, err
			}
			log.Debug("fal request completed", "bytes", len(raw))
			return json.RawMessage(raw), nil
		case "IN_QUEUE", "IN_PROGRESS":
		default:
			return nil, fmt.Errorf("%w: unexpected status %q", ErrRequestFailed, st.Status)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// requestURL follows the queue layout, which addresses requests by owner/app only.
func (c *Client) requestURL(requestID string) string {
	app := c.cfg.EndpointID
	if parts := strings.SplitN(app, "/", 3); len(parts) == 3 {
		app = parts[0] + "/" + parts[1]
	}
	return c.cfg.BaseURL + "/" + app + "/requests/" + requestID
}

func (c *Client) call(ctx context.Context, op, method, url string, body any, out any) ([]byte, error) {
	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		c.metrics.ObserveUpstream(upstream, op, "error", time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("fal %s: %w", op, err)
	}
	c.metrics.ObserveUpstream(upstream, op, strconv.Itoa(resp.StatusCode()), time.Since(start))
	if resp.IsError() || resp.StatusCode() >= 300 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}
	raw := resp.Body()
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("fal %s: decode: %w", op, err)
		}
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
