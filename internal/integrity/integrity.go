// Package integrity runs full consistency checks against SQLite database
// files.
//
// A check either runs and reports a verdict (Result.OK) or fails to run at
// all, in which case an error wrapping ErrProcess is returned. Callers must
// never read a "could not run" outcome as a failed verdict.
package integrity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultCommand = "sqlite3"
	DefaultTimeout = 5 * time.Minute

	okOutput = "ok"
)

// ErrProcess marks a check that could not be carried out.
var ErrProcess = errors.New("integrity check could not run")

// Result is the verdict of a check that ran to completion.
type Result struct {
	OK     bool   `json:"ok"`
	Output string `json:"output"`
}

type Checker interface {
	Check(ctx context.Context, dbPath string) (Result, error)
}

// ProcessChecker runs `<Command> <dbPath> "PRAGMA integrity_check;"` and
// inspects its combined output.
type ProcessChecker struct {
	Command string
	Timeout time.Duration
}

func NewProcessChecker(command string, timeout time.Duration) *ProcessChecker {
	if command == "" {
		command = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ProcessChecker{Command: command, Timeout: timeout}
}

func (c *ProcessChecker) Check(ctx context.Context, dbPath string) (Result, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProcess, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, dbPath, "PRAGMA integrity_check;")
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	output := strings.TrimSpace(out.String())

	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, fmt.Errorf("%w: %s timed out after %s", ErrProcess, c.Command, c.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("%w: %s exited with code %d: %s", ErrProcess, c.Command, exitErr.ExitCode(), output)
		}
		return Result{}, fmt.Errorf("%w: failed to execute %s: %w", ErrProcess, c.Command, err)
	}

	return Result{OK: output == okOutput, Output: output}, nil
}
