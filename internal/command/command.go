// Package command runs external tools for pipeline stages, capturing their
// combined output and honoring context cancellation with a bounded grace
// period before the process is killed.
package command

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const killGracePeriod = 10 * time.Second

// Error carries the combined output of a failed command alongside the exec
// error, so run results can surface raw tool diagnostics.
type Error struct {
	Command string
	Output  string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CommandOutput returns the captured combined output.
func (e *Error) CommandOutput() string {
	return e.Output
}

// Runner executes external commands in a working directory.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a command runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes name with args in dir and returns the combined output. On
// cancellation the process receives SIGTERM and is killed after the grace
// period elapses.
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	r.logger.Debug("running command", "command", name, "args", args, "dir", dir)
	err := cmd.Run()
	output := combined.String()
	if err != nil {
		return output, &Error{Command: name, Output: output, Err: err}
	}
	return output, nil
}
