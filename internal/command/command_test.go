package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testRunner() *Runner {
	return NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunCapturesCombinedOutput(t *testing.T) {
	out, err := testRunner().Run(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Fatalf("expected combined stdout and stderr, got %q", out)
	}
}

func TestRunFailurePreservesOutput(t *testing.T) {
	_, err := testRunner().Run(context.Background(), t.TempDir(), "sh", "-c", "echo broken; exit 3")
	if err == nil {
		t.Fatalf("expected error")
	}
	var cmdErr *Error
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(cmdErr.CommandOutput(), "broken") {
		t.Fatalf("expected output preserved, got %q", cmdErr.CommandOutput())
	}
}

func TestRunCancelledTerminatesProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := testRunner().Run(ctx, t.TempDir(), "sleep", "60")
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error after cancellation")
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("process did not terminate within grace period")
	}
}
