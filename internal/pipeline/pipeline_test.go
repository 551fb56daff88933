package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func recordingStage(name string, kind Kind, order *[]string, err error) Stage {
	return Stage{
		Name: name,
		Kind: kind,
		Run: func(ctx context.Context) error {
			*order = append(*order, name)
			return err
		},
	}
}

func TestStagesRunInOrder(t *testing.T) {
	var order []string
	stages := []Stage{
		recordingStage("checkout", KindSourceUnavailable, &order, nil),
		recordingStage("build", KindBuild, &order, nil),
		recordingStage("push", KindPush, &order, nil),
	}

	outcome := NewRunner(stages, testLogger(), 0).Run(context.Background())

	if outcome.Status != StatusSucceeded {
		t.Fatalf("expected success, got %s (%v)", outcome.Status, outcome.Err)
	}
	if outcome.Stage != "push" {
		t.Fatalf("expected final stage push, got %s", outcome.Stage)
	}
	want := []string{"checkout", "build", "push"}
	if len(order) != len(want) {
		t.Fatalf("expected %d stage executions, got %v", len(want), order)
	}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("stage %d out of order: got %v", i, order)
		}
	}
}

func TestFailureHaltsChain(t *testing.T) {
	var order []string
	stages := []Stage{
		recordingStage("checkout", KindSourceUnavailable, &order, nil),
		recordingStage("build", KindBuild, &order, errors.New("compile failed")),
		recordingStage("push", KindPush, &order, nil),
		recordingStage("apply", KindApply, &order, nil),
	}

	outcome := NewRunner(stages, testLogger(), 0).Run(context.Background())

	if outcome.Status != StatusFailed {
		t.Fatalf("expected failure, got %s", outcome.Status)
	}
	if outcome.Stage != "build" {
		t.Fatalf("expected failing stage build, got %s", outcome.Stage)
	}
	if KindOf(outcome.Err) != KindBuild {
		t.Fatalf("expected BUILD_ERROR, got %s", KindOf(outcome.Err))
	}
	for _, name := range order {
		if name == "push" || name == "apply" {
			t.Fatalf("stage %s must not run after build failure", name)
		}
	}
}

func TestBestEffortFailureDoesNotHalt(t *testing.T) {
	var order []string
	verify := Stage{
		Name:       "verify",
		Kind:       KindApply,
		BestEffort: true,
		Run: func(ctx context.Context) error {
			order = append(order, "verify")
			return errors.New("status read failed")
		},
	}
	stages := []Stage{
		recordingStage("apply", KindApply, &order, nil),
		verify,
	}

	outcome := NewRunner(stages, testLogger(), 0).Run(context.Background())

	if outcome.Status != StatusSucceeded {
		t.Fatalf("best-effort failure must not fail the run, got %s (%v)", outcome.Status, outcome.Err)
	}
}

func TestRetryPolicyBoundedAttempts(t *testing.T) {
	attempts := 0
	stage := Stage{
		Name:       "push",
		Kind:       KindPush,
		Retries:    2,
		RetryDelay: time.Millisecond,
		Run: func(ctx context.Context) error {
			attempts++
			return fmt.Errorf("attempt %d refused", attempts)
		},
	}

	outcome := NewRunner([]Stage{stage}, testLogger(), 0).Run(context.Background())

	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
	if KindOf(outcome.Err) != KindPush {
		t.Fatalf("expected PUSH_ERROR after exhaustion, got %s", KindOf(outcome.Err))
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	stage := Stage{
		Name:       "registry-auth",
		Kind:       KindAuthentication,
		Retries:    1,
		RetryDelay: time.Millisecond,
		Run: func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return errors.New("rate limited")
			}
			return nil
		},
	}

	outcome := NewRunner([]Stage{stage}, testLogger(), 0).Run(context.Background())

	if outcome.Status != StatusSucceeded {
		t.Fatalf("expected success after retry, got %s (%v)", outcome.Status, outcome.Err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRunTimeoutClassified(t *testing.T) {
	stage := Stage{
		Name: "rollout-wait",
		Kind: KindRolloutTimeout,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	outcome := NewRunner([]Stage{stage}, testLogger(), 20*time.Millisecond).Run(context.Background())

	if outcome.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", outcome.Status)
	}
	if KindOf(outcome.Err) != KindRunTimeout {
		t.Fatalf("expected RUN_TIMEOUT, got %s", KindOf(outcome.Err))
	}
}

func TestStageInternalDeadlineKeepsStageKind(t *testing.T) {
	stage := Stage{
		Name: "rollout-wait",
		Kind: KindRolloutTimeout,
		Run: func(ctx context.Context) error {
			// Stage-local bound, well inside the run budget.
			return fmt.Errorf("replicas not ready: %w", context.DeadlineExceeded)
		},
	}

	outcome := NewRunner([]Stage{stage}, testLogger(), time.Minute).Run(context.Background())

	if KindOf(outcome.Err) != KindRolloutTimeout {
		t.Fatalf("expected ROLLOUT_TIMEOUT, got %s", KindOf(outcome.Err))
	}
}

func TestCancellationStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var order []string

	stages := []Stage{
		{
			Name: "build",
			Kind: KindBuild,
			Run: func(ctx context.Context) error {
				order = append(order, "build")
				cancel()
				<-ctx.Done()
				return ctx.Err()
			},
		},
		recordingStage("push", KindPush, &order, nil),
	}

	outcome := NewRunner(stages, testLogger(), time.Minute).Run(ctx)

	if outcome.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s (%v)", outcome.Status, outcome.Err)
	}
	if KindOf(outcome.Err) != KindCancelled {
		t.Fatalf("expected CANCELLED kind, got %s", KindOf(outcome.Err))
	}
	for _, name := range order {
		if name == "push" {
			t.Fatalf("no stage may start after cancellation")
		}
	}
}

func TestFinalizerRunsOnEveryOutcome(t *testing.T) {
	cases := map[string]Stage{
		"success": {Name: "apply", Kind: KindApply, Run: func(ctx context.Context) error { return nil }},
		"failure": {Name: "apply", Kind: KindApply, Run: func(ctx context.Context) error { return errors.New("boom") }},
	}
	for name, stage := range cases {
		t.Run(name, func(t *testing.T) {
			finalized := false
			runner := NewRunner([]Stage{stage}, testLogger(), 0).
				WithFinalizer(func(ctx context.Context, outcome Outcome) {
					finalized = true
					if ctx.Err() != nil {
						t.Fatalf("finalizer context must be live, got %v", ctx.Err())
					}
				})
			runner.Run(context.Background())
			if !finalized {
				t.Fatalf("finalizer did not run")
			}
		})
	}
}

func TestFinalizerRunsAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finalized := false
	stage := Stage{Name: "checkout", Kind: KindSourceUnavailable, Run: func(ctx context.Context) error { return nil }}
	NewRunner([]Stage{stage}, testLogger(), 0).
		WithFinalizer(func(ctx context.Context, outcome Outcome) {
			finalized = true
			if ctx.Err() != nil {
				t.Fatalf("finalizer context must survive run cancellation, got %v", ctx.Err())
			}
		}).
		Run(ctx)

	if !finalized {
		t.Fatalf("finalizer must run after cancellation")
	}
}

type outputErr struct{ output string }

func (e outputErr) Error() string         { return "tool failed" }
func (e outputErr) CommandOutput() string { return e.output }

func TestStageErrorPreservesToolOutput(t *testing.T) {
	stage := Stage{
		Name: "validate",
		Kind: KindValidation,
		Run: func(ctx context.Context) error {
			return fmt.Errorf("compile check: %w", outputErr{output: "SyntaxError: invalid syntax"})
		},
	}

	outcome := NewRunner([]Stage{stage}, testLogger(), 0).Run(context.Background())

	var stageErr *StageError
	if !errors.As(outcome.Err, &stageErr) {
		t.Fatalf("expected StageError, got %T", outcome.Err)
	}
	if stageErr.Output != "SyntaxError: invalid syntax" {
		t.Fatalf("expected preserved tool output, got %q", stageErr.Output)
	}
}
