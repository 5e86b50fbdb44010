package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

// Observer receives step outcomes. *observability.Metrics implements it.
type Observer interface {
	ObserveStepAttempt(step, outcome string, dur time.Duration)
	IncStepReplay(step string)
}

type noopObserver struct{}

func (noopObserver) ObserveStepAttempt(string, string, time.Duration) {}
func (noopObserver) IncStepReplay(string)                             {}

// Run drives the named steps of a single job. Each step result is stored under
// (JobID, step) before the next step starts; a stored result is returned on
// re-entry without calling the step body.
type Run struct {
	JobID        string
	Store        CheckpointStore
	Policy       RetryPolicy
	StepPolicies map[string]RetryPolicy
	Log          *logger.Logger
	Observer     Observer

	// Sleep waits between attempts. Tests replace it to avoid real backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *Run) policyFor(step string) RetryPolicy {
	base := r.Policy.merge(DefaultRetryPolicy())
	if p, ok := r.StepPolicies[step]; ok {
		return p.merge(base)
	}
	// Per-index steps share a policy keyed by their prefix, e.g. "upload-output".
	for name, p := range r.StepPolicies {
		if strings.HasSuffix(name, "-*") && strings.HasPrefix(step, strings.TrimSuffix(name, "*")) {
			return p.merge(base)
		}
	}
	return base
}

func (r *Run) observer() Observer {
	if r.Observer == nil {
		return noopObserver{}
	}
	return r.Observer
}

func (r *Run) log() *logger.Logger {
	if r.Log == nil {
		return logger.NewNop()
	}
	return r.Log
}

// Has reports whether step already has a stored result.
func (r *Run) Has(ctx context.Context, step string) (bool, error) {
	_, found, err := r.Store.Get(ctx, r.JobID, step)
	if err != nil {
		return false, fmt.Errorf("load checkpoint %q: %w", step, err)
	}
	return found, nil
}

// Load decodes the stored result of step into T.
func Load[T any](ctx context.Context, r *Run, step string) (T, bool, error) {
	var out T
	raw, found, err := r.Store.Get(ctx, r.JobID, step)
	if err != nil {
		return out, false, fmt.Errorf("load checkpoint %q: %w", step, err)
	}
	if !found {
		return out, false, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, true, Permanent(fmt.Errorf("decode checkpoint %q: %w", step, err))
	}
	return out, true, nil
}

// Do runs fn as the named step of r, at most once to a stored result.
func Do[T any](ctx context.Context, r *Run, step string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if v, found, err := Load[T](ctx, r, step); err != nil || found {
		if found && err == nil {
			r.observer().IncStepReplay(step)
			r.log().Debug("step replayed from checkpoint", "job_id", r.JobID, "step", step)
		}
		return v, err
	}

	ctx, span := observability.Tracer("orchestrator").Start(ctx, "step "+step)
	defer span.End()
	span.SetAttributes(attribute.String("job.id", r.JobID), attribute.String("step.name", step))

	policy := r.policyFor(step)
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		v, err := runAttempt(ctx, policy.Timeout, fn)
		if err == nil {
			r.observer().ObserveStepAttempt(step, "success", time.Since(start))
			return commit(ctx, r, step, v)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Caller abandoned the job; leave it resumable.
			span.SetStatus(codes.Error, "canceled")
			return zero, fmt.Errorf("step %q interrupted: %w", step, errors.Join(ctxErr, err))
		}
		if attempt >= policy.MaxAttempts || !policy.retryable(err) {
			r.observer().ObserveStepAttempt(step, "terminal", time.Since(start))
			r.log().Error("step failed", "job_id", r.JobID, "step", step, "attempt", attempt, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return zero, &StepError{Step: step, Attempts: attempt, Err: err}
		}
		r.observer().ObserveStepAttempt(step, "retry", time.Since(start))
		backoff := computeBackoff(policy, attempt)
		r.log().Warn("step attempt failed; retrying",
			"job_id", r.JobID, "step", step, "attempt", attempt, "backoff", backoff.String(), "error", err)
		if serr := sleep(ctx, backoff); serr != nil {
			return zero, fmt.Errorf("step %q interrupted: %w", step, errors.Join(serr, err))
		}
	}
}

// runAttempt runs one attempt of fn. A body that returns a value counts as a
// success even if its deadline passed, so steps can absorb their own timeouts.
// A panic becomes a permanent error so the job reaches compensation.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			v, err = zero, Permanent(fmt.Errorf("step panicked: %v", rec))
		}
	}()
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// commit stores v and returns whatever value won the first write.
func commit[T any](ctx context.Context, r *Run, step string, v T) (T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		var zero T
		return zero, Permanent(fmt.Errorf("encode checkpoint %q: %w", step, err))
	}
	if err := r.Store.Put(ctx, r.JobID, step, raw); err != nil {
		var zero T
		return zero, fmt.Errorf("store checkpoint %q: %w", step, err)
	}
	stored, found, err := Load[T](ctx, r, step)
	if err != nil || !found {
		return v, err
	}
	return stored, nil
}
