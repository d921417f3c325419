package gate

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// ExecutionResult is what the executor collaborator hands back for one
// command, and what Handle returns for blocked or denied commands as a
// synthetic failure.
type ExecutionResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Executor runs an already-approved command. Implementations own their hard
// execution timeout.
type Executor interface {
	Execute(ctx context.Context, command, workingDir string) (ExecutionResult, error)
}

const (
	defaultExecTimeout    = 10 * time.Minute
	defaultMaxOutputBytes = 512 * 1024
)

// ShellExecutor runs commands through the shell with a hard timeout and
// bounded captured output.
type ShellExecutor struct {
	Shell          string
	Timeout        time.Duration
	MaxOutputBytes int64
}

func NewShellExecutor(timeout time.Duration) *ShellExecutor {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &ShellExecutor{
		Shell:          "/bin/sh",
		Timeout:        timeout,
		MaxOutputBytes: defaultMaxOutputBytes,
	}
}

func (e *ShellExecutor) Execute(ctx context.Context, command, workingDir string) (ExecutionResult, error) {
	shell := e.Shell
	if strings.TrimSpace(shell) == "" {
		shell = "/bin/sh"
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	if strings.TrimSpace(workingDir) != "" {
		cmd.Dir = workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecutionResult{
		Stdout: truncateOutput(stdout.String(), e.MaxOutputBytes),
		Stderr: truncateOutput(stderr.String(), e.MaxOutputBytes),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = 1
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}
		return res, err
	}
	return res, nil
}

func truncateOutput(s string, max int64) string {
	if max <= 0 {
		max = defaultMaxOutputBytes
	}
	if int64(len(s)) <= max {
		return s
	}
	return s[:max]
}
