package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "upstream status" }
func (e statusErr) HTTPStatusCode() int { return e.code }

func newTestRun(jobID string) (*Run, *[]time.Duration) {
	var slept []time.Duration
	return &Run{
		JobID:  jobID,
		Store:  NewMemoryCheckpoints(),
		Policy: RetryPolicy{MaxAttempts: 3, MinBackoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond},
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, &slept
}

func TestDoCheckpointsAndReplays(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRun("job-1")
	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}
	for i := 0; i < 3; i++ {
		v, err := Do(ctx, r, "step-a", fn)
		if err != nil || v != "value" {
			t.Fatalf("Do #%d: v=%q err=%v", i, v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected body to run once, ran %d times", calls)
	}
	ok, err := r.Has(ctx, "step-a")
	if err != nil || !ok {
		t.Fatalf("Has: ok=%v err=%v", ok, err)
	}
}

func TestDoStoresNullForNilPointer(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRun("job-null")
	v, err := Do(ctx, r, "caption", func(context.Context) (*string, error) { return nil, nil })
	if err != nil || v != nil {
		t.Fatalf("first: v=%v err=%v", v, err)
	}
	raw, found, _ := r.Store.Get(ctx, "job-null", "caption")
	if !found || string(raw) != "null" {
		t.Fatalf("expected stored null, got found=%v raw=%s", found, raw)
	}
	v, err = Do(ctx, r, "caption", func(context.Context) (*string, error) {
		t.Fatalf("body must not run on replay")
		return nil, nil
	})
	if err != nil || v != nil {
		t.Fatalf("replay: v=%v err=%v", v, err)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	r, slept := newTestRun("job-2")
	calls := 0
	v, err := Do(context.Background(), r, "flaky", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, statusErr{code: 503}
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("v=%d err=%v", v, err)
	}
	if calls != 3 || len(*slept) != 2 {
		t.Fatalf("calls=%d sleeps=%v", calls, *slept)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	r, _ := newTestRun("job-3")
	calls := 0
	_, err := Do(context.Background(), r, "always-fails", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	var se *StepError
	if !errors.As(err, &se) || se.Attempts != 3 || se.Step != "always-fails" {
		t.Fatalf("expected StepError after 3 attempts, got %v", err)
	}
	if !IsTerminal(err) {
		t.Fatalf("exhausted step must be terminal")
	}
	if calls != 3 {
		t.Fatalf("calls=%d", calls)
	}
	if ok, _ := r.Has(context.Background(), "always-fails"); ok {
		t.Fatalf("failed step must not be checkpointed")
	}
}

func TestDoDoesNotRetryPermanentOrClientErrors(t *testing.T) {
	for name, failure := range map[string]error{
		"permanent": Permanent(errors.New("empty output")),
		"http 400":  statusErr{code: 400},
	} {
		t.Run(name, func(t *testing.T) {
			r, slept := newTestRun("job-" + name)
			calls := 0
			_, err := Do(context.Background(), r, "s", func(context.Context) (int, error) {
				calls++
				return 0, failure
			})
			if calls != 1 || len(*slept) != 0 {
				t.Fatalf("calls=%d sleeps=%d", calls, len(*slept))
			}
			if !IsTerminal(err) {
				t.Fatalf("expected terminal error, got %v", err)
			}
		})
	}
}

func TestDoCancelledIsNotTerminal(t *testing.T) {
	r, _ := newTestRun("job-cancel")
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, r, "s", func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("request aborted")
	})
	if err == nil || IsTerminal(err) {
		t.Fatalf("expected non-terminal cancellation error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestDoAttemptTimeoutCountsAsFailure(t *testing.T) {
	r, _ := newTestRun("job-timeout")
	r.StepPolicies = map[string]RetryPolicy{"slow": {MaxAttempts: 2, Timeout: 5 * time.Millisecond}}
	calls := 0
	_, err := Do(context.Background(), r, "slow", func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	var se *StepError
	if !errors.As(err, &se) || se.Attempts != 2 {
		t.Fatalf("expected StepError after 2 attempts, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestPolicyForWildcard(t *testing.T) {
	r := &Run{StepPolicies: map[string]RetryPolicy{"upload-output-*": {MaxAttempts: 8}}}
	if got := r.policyFor("upload-output-3").MaxAttempts; got != 8 {
		t.Fatalf("wildcard policy: want=8 got=%d", got)
	}
	if got := r.policyFor("generate-layers").MaxAttempts; got != DefaultRetryPolicy().MaxAttempts {
		t.Fatalf("default policy: got=%d", got)
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	p := RetryPolicy{MinBackoff: time.Second, MaxBackoff: 4 * time.Second, JitterFrac: 0.2}
	for attempt, base := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 10: 4 * time.Second} {
		d := computeBackoff(p, attempt)
		low := time.Duration(float64(base) * 0.8)
		high := time.Duration(float64(base) * 1.2)
		if d < low || d > high {
			t.Fatalf("attempt %d: %s outside [%s, %s]", attempt, d, low, high)
		}
	}
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "default:\n  max_attempts: 5\n  min_backoff: 2s\nsteps:\n  generate-layers:\n    timeout: 10m\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	pf, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	def, steps := pf.Apply(DefaultRetryPolicy())
	if def.MaxAttempts != 5 || def.MinBackoff != 2*time.Second || def.MaxBackoff != 30*time.Second {
		t.Fatalf("unexpected default: %+v", def)
	}
	if steps["generate-layers"].Timeout != 10*time.Minute {
		t.Fatalf("unexpected step override: %+v", steps["generate-layers"])
	}
	if pf, err := LoadPolicyFile(""); err != nil || len(pf.Steps) != 0 {
		t.Fatalf("empty path: %+v %v", pf, err)
	}
}

func TestDoPanicIsTerminalAndNotRetried(t *testing.T) {
	r, slept := newTestRun("job-panic")
	calls := 0
	_, err := Do(context.Background(), r, "boom", func(context.Context) (int, error) {
		calls++
		panic("nil client")
	})
	var se *StepError
	if !errors.As(err, &se) || se.Attempts != 1 || !IsTerminal(err) {
		t.Fatalf("expected terminal StepError after one attempt, got %v", err)
	}
	if calls != 1 || len(*slept) != 0 {
		t.Fatalf("calls=%d sleeps=%d", calls, len(*slept))
	}
	if has, _ := r.Has(context.Background(), "boom"); has {
		t.Fatalf("panicking step must not be checkpointed")
	}
}
