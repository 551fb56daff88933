// Package pipeline implements a sequential stage runner for deployment
// workflows: strict stage ordering, bounded per-stage retries, a run-level
// wall-clock budget, cancellation, and an always-run finalization hook.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const finalizeTimeout = 2 * time.Minute

// Finalizer runs after every outcome, success or failure, with a detached
// bounded context. Used for diagnostics collection and workspace cleanup.
type Finalizer func(ctx context.Context, outcome Outcome)

// Runner executes stages strictly in order. A stage starts only after its
// predecessor reported success; the first fatal failure halts the chain.
type Runner struct {
	stages   []Stage
	logger   *slog.Logger
	timeout  time.Duration
	finalize Finalizer
	metrics  *Metrics
}

// NewRunner creates a runner over the given stage chain. A zero timeout
// disables the run-level budget.
func NewRunner(stages []Stage, logger *slog.Logger, timeout time.Duration) *Runner {
	return &Runner{
		stages:  stages,
		logger:  logger,
		timeout: timeout,
	}
}

// WithFinalizer registers the always-run finalization hook.
func (r *Runner) WithFinalizer(fn Finalizer) *Runner {
	r.finalize = fn
	return r
}

// WithMetrics attaches stage and run instrumentation.
func (r *Runner) WithMetrics(m *Metrics) *Runner {
	r.metrics = m
	return r
}

// Run drives the chain to a terminal state and reports the outcome. The
// returned outcome names the last stage reached and, on failure, carries a
// StageError classifying what went wrong.
func (r *Runner) Run(ctx context.Context) Outcome {
	runCtx := ctx
	cancel := func() {}
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	outcome := Outcome{Status: StatusSucceeded, StartedAt: time.Now().UTC()}

	for _, stage := range r.stages {
		if err := runCtx.Err(); err != nil {
			outcome.Status, outcome.Err = r.terminalFor(ctx, runCtx, outcome.Stage, stage.Kind, err)
			break
		}

		outcome.Stage = stage.Name
		r.logger.Info("stage starting", "stage", stage.Name)
		started := time.Now()

		err := r.runStage(runCtx, stage)
		duration := time.Since(started)

		if err == nil {
			r.logger.Info("stage succeeded", "stage", stage.Name, "duration", duration)
			r.observeStage(stage.Name, StatusSucceeded, duration)
			continue
		}

		if stage.BestEffort && runCtx.Err() == nil {
			r.logger.Warn("best-effort stage failed", "stage", stage.Name, "error", err)
			r.observeStage(stage.Name, StatusFailed, duration)
			continue
		}

		status, classified := r.terminalFor(ctx, runCtx, stage.Name, stage.Kind, err)
		r.logger.Error("stage failed", "stage", stage.Name, "kind", string(KindOf(classified)), "error", err)
		r.observeStage(stage.Name, status, duration)
		outcome.Status = status
		outcome.Err = classified
		break
	}

	outcome.FinishedAt = time.Now().UTC()
	r.observeRun(outcome)
	r.runFinalizer(ctx, outcome)
	return outcome
}

// runStage executes one stage with its retry policy. Retries wait out the
// configured delay but give up immediately on cancellation.
func (r *Runner) runStage(ctx context.Context, stage Stage) error {
	attempts := stage.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = stage.Run(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || ctx.Err() != nil {
			return lastErr
		}
		r.logger.Warn("stage attempt failed, retrying",
			"stage", stage.Name, "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(stage.RetryDelay):
		}
	}
	return lastErr
}

// terminalFor decides whether a failure is a plain stage failure, a run
// timeout, or an external cancellation. Only the contexts are consulted:
// a cancelled parent means the operator stopped the run, an expired run
// context means the wall-clock budget ran out. A stage's own internal
// deadline (e.g. the rollout wait bound) is classified by the stage kind.
func (r *Runner) terminalFor(parent, run context.Context, stage string, kind Kind, err error) (Status, error) {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return StatusCancelled, &StageError{Stage: stage, Kind: KindCancelled, Err: err}
	case errors.Is(run.Err(), context.DeadlineExceeded):
		return StatusFailed, &StageError{Stage: stage, Kind: KindRunTimeout, Err: err}
	default:
		return StatusFailed, &StageError{Stage: stage, Kind: kind, Output: rawOutput(err), Err: err}
	}
}

// rawOutput lifts captured tool output out of an error chain so diagnostics
// survive classification.
func rawOutput(err error) string {
	var provider interface{ CommandOutput() string }
	if errors.As(err, &provider) {
		return provider.CommandOutput()
	}
	return ""
}

func (r *Runner) runFinalizer(ctx context.Context, outcome Outcome) {
	if r.finalize == nil {
		return
	}
	// The finalizer must run even when the run context is already dead.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	r.finalize(finalCtx, outcome)
}

func (r *Runner) observeStage(stage string, status Status, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveStage(stage, status, duration)
}

func (r *Runner) observeRun(outcome Outcome) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveRun(outcome.Status, outcome.FinishedAt.Sub(outcome.StartedAt))
}
