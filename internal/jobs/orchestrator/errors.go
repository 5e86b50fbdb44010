package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// StepError is returned when a step gives up: retries are exhausted or the
// error was not retryable.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FailedError reports a job whose failure was already recorded by an earlier run.
type FailedError struct {
	JobID  string
	Reason string
}

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s already failed", e.JobID)
	}
	return fmt.Sprintf("job %s already failed: %s", e.JobID, e.Reason)
}

// IsTerminal reports whether err means the job must not be retried by its
// scheduler. Cancellation is never terminal: the job resumes on redelivery.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StepError
	var fe *FailedError
	return errors.As(err, &se) || errors.As(err, &fe) || IsPermanent(err)
}
