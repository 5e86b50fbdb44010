package httpx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr int

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{statusErr(500), true},
		{statusErr(503), true},
		{statusErr(429), true},
		{statusErr(404), false},
		{statusErr(422), false},
		{fmt.Errorf("wrapped: %w", statusErr(502)), true},
		{context.DeadlineExceeded, true},
		{errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsRetryableError(tc.err); got != tc.want {
			t.Fatalf("IsRetryableError(%v): want=%v got=%v", tc.err, tc.want, got)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		d := Jitter(base, 0.2)
		if d < 8*time.Second || d > 12*time.Second {
			t.Fatalf("jitter out of bounds: %s", d)
		}
	}
	if Jitter(0, 0.2) != 0 {
		t.Fatalf("zero base should stay zero")
	}
}
