// Package hooks runs user-configured lifecycle commands.
//
// A hook command is a {{VAR}} template. It is substituted before anything is
// spawned, then run through the shell in the worktree directory with the
// same variables exported as WG_* environment entries. Commands of one hook
// run sequentially and the first failure stops the rest. There is no
// timeout; cancelling the context is the only way to stop a hung command.
package hooks

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"time"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/exec"
	"github.com/zhubert/workgarden/internal/logger"
	"github.com/zhubert/workgarden/internal/template"
)

// Lifecycle points.
const (
	PostCreate = "post_create"
	PostSetup  = "post_setup"
	PreRemove  = "pre_remove"
	PostRemove = "post_remove"
)

// Undoable reports whether commands of hook may carry an undo command.
// pre_remove and post_remove only bracket destructive phases.
func Undoable(hook string) bool {
	return hook == PostCreate || hook == PostSetup
}

// Result describes one executed command.
type Result struct {
	Hook     string
	Command  string // after substitution
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout and stderr joined.
func (r Result) Output() string {
	out := r.Stdout
	if r.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += r.Stderr
	}
	return out
}

// Runner executes hook commands.
type Runner struct {
	executor exec.CommandExecutor
	log      *slog.Logger
}

// NewRunner returns a runner spawning processes through executor.
func NewRunner(executor exec.CommandExecutor) *Runner {
	return &Runner{executor: executor, log: logger.ComponentLogger("hooks")}
}

// shell returns the interpreter and its flag for running a command line.
func shell() (string, string) {
	if runtime.GOOS == "windows" {
		return "cmd", "/C"
	}
	return "sh", "-c"
}

// Prepare substitutes every command up front so an unknown variable fails
// before any process is spawned.
func Prepare(commands []string, vars template.Variables) ([]string, error) {
	out := make([]string, 0, len(commands))
	for _, c := range commands {
		s, err := template.Substitute(c, vars)
		if err != nil {
			return nil, wgerrors.E(wgerrors.Op("hooks.Prepare"), wgerrors.KindTemplate, "hook command "+c, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Run executes commands in dir, one after another, and stops at the first
// failure. It returns the results of every command that was started.
func (r *Runner) Run(ctx context.Context, hook string, commands []string, dir string, vars template.Variables) ([]Result, error) {
	prepared, err := Prepare(commands, vars)
	if err != nil {
		return nil, err
	}
	env := template.Environ(vars)

	var results []Result
	for _, command := range prepared {
		if strings.TrimSpace(command) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, wgerrors.E(wgerrors.Op("hooks.Run"), wgerrors.KindHook, hook+" hook interrupted", err)
		}

		res, err := r.runOne(ctx, hook, command, dir, env)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, hook, command, dir string, env []string) (Result, error) {
	log := r.log.With("hook", hook)
	log.Info("running hook", "cmd", command, "dir", dir)

	sh, flag := shell()
	start := time.Now()
	stdout, stderr, err := r.executor.RunWithEnv(ctx, dir, env, sh, flag, command)
	res := Result{
		Hook:     hook,
		Command:  command,
		ExitCode: exec.ExitCode(err),
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Duration: time.Since(start),
	}

	if res.Stdout != "" {
		log.Debug("hook stdout", "cmd", command, "output", res.Stdout)
	}
	if res.Stderr != "" {
		log.Debug("hook stderr", "cmd", command, "output", res.Stderr)
	}

	if err != nil {
		if ctx.Err() != nil {
			log.Warn("hook interrupted", "cmd", command)
			return res, wgerrors.E(wgerrors.Op("hooks.Run"), wgerrors.KindHook, hook+" hook interrupted", ctx.Err())
		}
		log.Error("hook failed", "cmd", command, "exitCode", res.ExitCode, "error", err)
		if res.ExitCode < 0 {
			return res, wgerrors.E(wgerrors.Op("hooks.Run"), wgerrors.KindHook, "starting "+hook+" hook", err)
		}
		return res, wgerrors.HookFailed(hook, command, res.ExitCode)
	}
	log.Info("hook complete", "cmd", command, "duration", res.Duration)
	return res, nil
}
