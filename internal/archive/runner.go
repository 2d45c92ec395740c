// Package archive runs and implements the external backup-producing process.
//
// Runner launches the configured command with the backup type as its only
// argument and reads the artifact path prefix from stdout. Producer is the
// default implementation of that command, shipped as cmd/sd-archive.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Minute

// ErrProcess matches every failure of the archive process, whether it could
// not be started or exited abnormally.
var ErrProcess = errors.New("archive process failed")

// ErrLaunch matches failures to start the archive process.
var ErrLaunch = errors.New("failed to execute archive command")

// ExitError reports a process that ran and exited non-zero or was killed
// at its deadline.
type ExitError struct {
	Code     int
	Output   string
	TimedOut bool
}

func (e *ExitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("archive command timed out: %s", e.Output)
	}
	return fmt.Sprintf("archive command exited with code %d: %s", e.Code, e.Output)
}

func (e *ExitError) Unwrap() error { return ErrProcess }

// LaunchError reports a process that could not be started at all.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to execute archive command %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{ErrLaunch, ErrProcess, e.Err} }

type Result struct {
	ArtifactPrefix string
	Duration       time.Duration
	ExitCode       int
}

type Runner struct {
	Command string
	Timeout time.Duration
}

func NewRunner(command string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{Command: command, Timeout: timeout}
}

// Run executes `<Command> <backupType>` and waits for it to finish.
func (r *Runner) Run(parent context.Context, backupType string) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, r.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Command, backupType)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &LaunchError{Command: r.Command, Err: err}
	}
	err := cmd.Wait()
	duration := time.Since(start)

	output := strings.TrimSpace(stderr.String())
	if output == "" {
		output = strings.TrimSpace(stdout.String())
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		reason := fmt.Sprintf("killed at the %s archive timeout", r.Timeout)
		if parent.Err() != nil {
			reason = fmt.Sprintf("killed after %s: %v", duration.Round(time.Millisecond), parent.Err())
		}
		return Result{}, &ExitError{Code: -1, Output: reason, TimedOut: errors.Is(ctxErr, context.DeadlineExceeded)}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, &ExitError{Code: exitErr.ExitCode(), Output: output}
		}
		return Result{}, &LaunchError{Command: r.Command, Err: err}
	}

	prefix := strings.TrimSpace(stdout.String())
	if prefix == "" {
		return Result{}, fmt.Errorf("%w: archive command printed no artifact path", ErrProcess)
	}

	return Result{ArtifactPrefix: prefix, Duration: duration, ExitCode: 0}, nil
}
