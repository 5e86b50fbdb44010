package orchestrator

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/yungbote/layered-backend/internal/platform/httpx"
)

type RetryPolicy struct {
	MaxAttempts int              `yaml:"max_attempts"`
	Retryable   func(error) bool `yaml:"-"`

	MinBackoff time.Duration `yaml:"min_backoff"` // default 1s
	MaxBackoff time.Duration `yaml:"max_backoff"` // default 30s
	JitterFrac float64       `yaml:"jitter_frac"` // default 0.20

	// Timeout bounds a single attempt. A timed-out attempt counts as failed.
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinBackoff:  1 * time.Second,
		MaxBackoff:  30 * time.Second,
		JitterFrac:  0.20,
	}
}

// merge fills zero fields of p from base.
func (p RetryPolicy) merge(base RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.Retryable == nil {
		p.Retryable = base.Retryable
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = base.MinBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = base.MaxBackoff
	}
	if p.JitterFrac <= 0 {
		p.JitterFrac = base.JitterFrac
	}
	if p.Timeout <= 0 {
		p.Timeout = base.Timeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return p
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultRetryable(err)
}

// DefaultRetryable retries everything except permanent errors, cancellation and
// HTTP statuses outside 408/425/429/5xx.
func DefaultRetryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if code := httpx.StatusCode(err); code != 0 {
		return httpx.IsRetryableHTTPStatus(code)
	}
	return true
}

func computeBackoff(r RetryPolicy, attempts int) time.Duration {
	minB := r.MinBackoff
	maxB := r.MaxBackoff
	j := r.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB || d <= 0 {
		d = maxB
	}
	return httpx.Jitter(d, j)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
