// Package runner executes shell command lines against the host, capturing
// combined output and exit status. It performs no retries; retry policy
// belongs to callers.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of a completed command.
type Result struct {
	Command  string        `json:"command"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// CommandError is returned when a command exits non-zero or cannot start.
// It carries the captured output and exit code verbatim for diagnosis.
type CommandError struct {
	Command  string `json:"command"`
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Output))
}

// Runner executes a command line with optional stdin.
type Runner interface {
	Execute(ctx context.Context, command string, stdin string) (*Result, error)
}

// Shell runs commands through bash -c.
type Shell struct {
	// Dir, when set, is the working directory for every command.
	Dir string
}

func (s *Shell) Execute(ctx context.Context, command string, stdin string) (*Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	if s.Dir != "" {
		cmd.Dir = s.Dir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	res := &Result{
		Command:  command,
		Output:   output.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return nil, &CommandError{Command: command, Output: res.Output, ExitCode: res.ExitCode}
	}
	return res, nil
}
