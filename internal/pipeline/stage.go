package pipeline

import (
	"context"
	"time"
)

// Status is the lifecycle state of a stage or a whole run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Stage is one ordered unit of the pipeline. Run performs the stage's side
// effect; a non-nil error is classified with the stage's failure kind and
// halts the chain unless the stage is best-effort.
type Stage struct {
	Name string
	Kind Kind
	Run  func(ctx context.Context) error

	// Retries is the number of additional attempts after the first failure.
	Retries    int
	RetryDelay time.Duration

	// BestEffort stages log their failure and let the run continue.
	BestEffort bool
}

// Outcome reports how a run ended: the last stage reached, the terminal
// status, and the classified error when the run did not succeed.
type Outcome struct {
	Stage      string
	Status     Status
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether the run ended in a non-success terminal state.
func (o Outcome) Failed() bool {
	return o.Status != StatusSucceeded
}
