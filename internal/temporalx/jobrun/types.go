package jobrun

import "time"

const (
	WorkflowName = "job_run"
	ActivityRun  = "job_run_execute"
)

// ErrTypeTerminal tags application errors that must not be retried.
const ErrTypeTerminal = "job_terminal"

type RunResult struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Options shape the single activity a job workflow runs.
type Options struct {
	MaxAttempts     int32
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
	Heartbeat       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 10 * time.Second
	}
	if o.MaxInterval < o.InitialInterval {
		o.MaxInterval = o.InitialInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 45 * time.Second
	}
	return o
}
