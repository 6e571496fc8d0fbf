// Package exec abstracts external process execution so git and hook
// invocations can be replaced with canned responses in tests.
package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	osexec "os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes after a cancelled
// command was killed.
const waitDelay = 2 * time.Second

// CommandExecutor runs external commands.
type CommandExecutor interface {
	// Run executes name with args in dir and returns captured stdout and stderr.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error)
	// Output executes the command and returns stdout only.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// CombinedOutput executes the command and returns stdout and stderr interleaved.
	CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// RunWithEnv is Run with extra environment entries appended to the
	// current process environment.
	RunWithEnv(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, []byte, error)
}

// RealExecutor runs commands with os/exec.
type RealExecutor struct {
	// Stdout and Stderr, when set, receive a live copy of the output.
	Stdout io.Writer
	Stderr io.Writer
}

// NewRealExecutor returns an executor backed by os/exec.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

func (e *RealExecutor) command(ctx context.Context, dir string, env []string, name string, args ...string) *osexec.Cmd {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	killGroupOnCancel(cmd)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	return cmd
}

func (e *RealExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	return e.RunWithEnv(ctx, dir, nil, name, args...)
}

func (e *RealExecutor) RunWithEnv(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, []byte, error) {
	cmd := e.command(ctx, dir, env, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, e.Stdout)
	cmd.Stderr = tee(&stderr, e.Stderr)
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (e *RealExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	stdout, _, err := e.Run(ctx, dir, name, args...)
	return stdout, err
}

func (e *RealExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return e.command(ctx, dir, nil, name, args...).CombinedOutput()
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// ExitCode extracts the process exit code from an error returned by an
// executor. It returns 0 for nil and -1 when the process never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var mockErr *ExitError
	if errors.As(err, &mockErr) {
		return mockErr.Code
	}
	return -1
}
