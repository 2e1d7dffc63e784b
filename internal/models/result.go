package models

import "time"

// TaskStatus is the terminal status of one task run.
type TaskStatus string

const (
	// StatusSuccess means the checker passed.
	StatusSuccess TaskStatus = "success"
	// StatusFailure means the agent finished but the checker did not pass.
	StatusFailure TaskStatus = "failure"
	// StatusTimeout means a step or wall-clock budget was exhausted and the
	// checker did not pass afterwards.
	StatusTimeout TaskStatus = "timeout"
	// StatusError marks an infrastructure fault (setup, provisioning, lost
	// instance). Error tasks should be re-run; they are not agent failures.
	StatusError TaskStatus = "error"
)

// TaskResult is the immutable outcome of exactly one step loop invocation.
type TaskResult struct {
	TaskID      string       `json:"task_id"`
	Domain      string       `json:"domain"`
	Generation  int          `json:"generation"`
	Status      TaskStatus   `json:"status"`
	Score       float64      `json:"score"`
	Detail      string       `json:"detail,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
	Steps       []StepRecord `json:"steps"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     time.Time    `json:"ended_at"`
	DurationSec float64      `json:"duration_sec"`
}

// ErrorDetail carries the taxonomy type and message for error-status results.
type ErrorDetail struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// DomainSummary aggregates results within one domain.
type DomainSummary struct {
	Total     int     `json:"total"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	Timeouts  int     `json:"timeouts"`
	Errors    int     `json:"errors"`
	PassRate  float64 `json:"pass_rate"`
	MeanSteps float64 `json:"mean_steps"`
}

// SuiteReport is the aggregated, persisted outcome of a suite run.
type SuiteReport struct {
	RunID       string                   `json:"run_id"`
	Cancelled   bool                     `json:"cancelled"`
	TotalTasks  int                      `json:"total_tasks"`
	Successes   int                      `json:"successes"`
	Failures    int                      `json:"failures"`
	Timeouts    int                      `json:"timeouts"`
	Errors      int                      `json:"errors"`
	PassRate    float64                  `json:"pass_rate"`
	MeanSteps   float64                  `json:"mean_steps"`
	Domains     map[string]DomainSummary `json:"domains"`
	Results     map[string][]TaskResult  `json:"results"`
	StartedAt   time.Time                `json:"started_at"`
	EndedAt     time.Time                `json:"ended_at"`
	DurationSec float64                  `json:"duration_sec"`
}
