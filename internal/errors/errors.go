// Package errors provides structured error types for workgarden.
// These errors carry the operation that failed, a category and an optional
// remediation hint shown to the user.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindOperation
	KindRollback
	KindPortsExhausted
	KindAllocationConflict
	KindState
	KindGit
	KindHook
	KindConfig
	KindTemplate
	KindNotFound
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindOperation:
		return "operation failed"
	case KindRollback:
		return "rollback failed"
	case KindPortsExhausted:
		return "ports exhausted"
	case KindAllocationConflict:
		return "allocation conflict"
	case KindState:
		return "state error"
	case KindGit:
		return "git error"
	case KindHook:
		return "hook failed"
	case KindConfig:
		return "configuration error"
	case KindTemplate:
		return "template error"
	case KindNotFound:
		return "not found"
	case KindIO:
		return "I/O error"
	default:
		return "unknown error"
	}
}

// Hint is a remediation suggestion attached to an error.
type Hint string

// Error is the structured error type for workgarden.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
	Hint    Hint   // What the user can do about it
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - Hint: a remediation hint
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case Hint:
			e.Hint = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err, or any error it wraps, is of the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// GetKind returns the Kind of the outermost structured error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GetHint returns the first remediation hint found in the error chain.
func GetHint(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Hint != "" {
			return string(e.Hint)
		}
		err = e.Err
	}
	return ""
}

// Validation errors
func WorktreeExists(id string) error {
	return E(Op("worktree.Create"), KindValidation, fmt.Sprintf("worktree %q already exists", id),
		Hint("remove it first with `wg remove`, or pick another branch"))
}

func WorktreeNotFound(id string) error {
	return E(Op("worktree.Find"), KindNotFound, fmt.Sprintf("worktree %q not found", id),
		Hint("run `wg list` to see managed worktrees"))
}

func PathExists(path string) error {
	return E(Op("worktree.Create"), KindValidation, fmt.Sprintf("target path %s already exists", path),
		Hint("if it is an orphaned worktree, clean it up with `wg state prune --remove-orphans`"))
}

func InvalidBranch(name, reason string) error {
	return E(Op("git.ValidateBranchName"), KindValidation, fmt.Sprintf("invalid branch name %q: %s", name, reason))
}

func UncommittedChanges(path string) error {
	return E(Op("worktree.Remove"), KindValidation, fmt.Sprintf("worktree %s has uncommitted changes", path),
		Hint("commit or stash them, or pass --force"))
}

// Port errors
func PortsExhausted(lo, hi int) error {
	return E(Op("ports.Allocate"), KindPortsExhausted, fmt.Sprintf("no free port in range %d-%d", lo, hi),
		Hint("port already in use; remove stale allocation with `wg state prune`, or widen docker_compose.ports"))
}

func AllocationConflict(port int, owner string) error {
	return E(Op("state.Reserve"), KindAllocationConflict, fmt.Sprintf("port %d already reserved by %s", port, owner))
}

// State errors
func StateUnreadable(path string, err error) error {
	return E(Op("state.Load"), KindState, fmt.Sprintf("cannot read state file %s", path), err,
		Hint("fix or move the state file aside; no changes were made"))
}

func StateWriteFailed(path string, err error) error {
	return E(Op("state.Save"), KindState, fmt.Sprintf("cannot write state file %s", path), err)
}

// Hook errors
func HookFailed(hook, command string, code int) error {
	return E(Op("hooks.Run"), KindHook, fmt.Sprintf("%s hook %q exited with code %d", hook, command, code),
		Hint("see the debug log for the hook's output"))
}

// Config errors
func ConfigNotFound(path string) error {
	return E(Op("config.Load"), KindConfig, fmt.Sprintf("no configuration at %s", path),
		Hint("create one with `wg config init`"))
}

func ConfigLoadFailed(path string, err error) error {
	return E(Op("config.Load"), KindConfig, fmt.Sprintf("failed to load config from %s", path), err)
}

func ConfigInvalid(reason string) error {
	return E(Op("config.Validate"), KindConfig, reason)
}

// Git errors
func GitNotRepo(path string) error {
	return E(Op("git.MainRepoRoot"), KindGit, fmt.Sprintf("%s is not inside a git repository", path))
}

func GitWorktreeFailed(branch string, err error) error {
	return E(Op("git.AddWorktree"), KindGit, fmt.Sprintf("failed to create worktree for branch %s", branch), err)
}
