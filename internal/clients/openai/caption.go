package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

const (
	DefaultModel  = "openai/gpt-4o-mini"
	CaptionPrompt = "Generate a 2-4 word title for this image. Reply with just the title, nothing else."
	upstream      = "caption"
)

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:    envutil.String("AI_GATEWAY_API_KEY", ""),
		BaseURL:   envutil.String("AI_GATEWAY_BASE_URL", "https://ai-gateway.vercel.sh/v1"),
		Model:     envutil.String("CAPTION_MODEL", DefaultModel),
		MaxTokens: envutil.Int("CAPTION_MAX_TOKENS", 20),
		Timeout:   envutil.Duration("CAPTION_TIMEOUT", 30*time.Second),
	}
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int { return e.StatusCode }

var ErrEmptyCaption = errors.New("caption response had no content")

// Captioner asks a chat-completions model for a short image title.
type Captioner struct {
	log     *logger.Logger
	http    *resty.Client
	cfg     Config
	metrics *observability.Metrics
}

func NewCaptioner(log *logger.Logger, cfg Config, metrics *observability.Metrics) (*Captioner, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing AI_GATEWAY_API_KEY")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing AI_GATEWAY_BASE_URL")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Captioner{
		log: log.With("service", "Captioner", "model", cfg.Model),
		http: resty.New().
			SetTimeout(cfg.Timeout).
			SetAuthToken(cfg.APIKey),
		cfg:     cfg,
		metrics: metrics,
	}, nil
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Caption returns a cleaned-up title for the image at imageURL.
func (c *Captioner) Caption(ctx context.Context, imageURL string) (string, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
				{Type: "text", Text: CaptionPrompt},
			},
		}},
		MaxTokens: c.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.cfg.BaseURL + "/chat/completions")
	if err != nil {
		c.metrics.ObserveUpstream(upstream, "chat_completions", "error", time.Since(start))
		return "", fmt.Errorf("caption request: %w", err)
	}
	c.metrics.ObserveUpstream(upstream, "chat_completions", strconv.Itoa(resp.StatusCode()), time.Since(start))
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", &openAIHTTPError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode caption response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCaption
	}
	title := CleanTitle(out.Choices[0].Message.Content)
	if title == "" {
		return "", ErrEmptyCaption
	}
	return title, nil
}

// CleanTitle strips surrounding whitespace and quote characters.
func CleanTitle(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"'`“”‘’"))
}
