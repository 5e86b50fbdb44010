package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// HTTPStatusCoder is implemented by client errors that carry a response status.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func IsRetryableHTTPStatus(code int) bool {
	if code == 408 || code == 425 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// Jitter spreads base by +/- frac.
func Jitter(base time.Duration, frac float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if frac <= 0 {
		return base
	}
	delta := float64(base) * frac
	low := float64(base) - delta
	if low < 0 {
		low = 0
	}
	high := float64(base) + delta
	return time.Duration(low + rand.Float64()*(high-low))
}
