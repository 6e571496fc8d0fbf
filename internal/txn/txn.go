// Package txn runs ordered operations with all-or-nothing semantics.
//
// Operations execute in declared order. On the first failure every
// operation that completed is rolled back in reverse order. Rollback never
// stops early: each undo step runs even when an earlier one failed, and every
// failure is collected. A transaction whose unwind did not fully succeed ends
// degraded and reports exactly which steps could not be undone.
package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags an operation variant.
type Kind string

// Operation kinds.
const (
	KindCreateWorktree  Kind = "create-worktree"
	KindAllocatePorts   Kind = "allocate-ports"
	KindGenerateOverlay Kind = "generate-overlay"
	KindCopyEnv         Kind = "copy-env"
	KindRunHook         Kind = "run-hook"
	KindUpdateState     Kind = "update-state"
	KindCopyAuxConfig   Kind = "copy-aux-config"
	KindRemoveWorktree  Kind = "remove-worktree"
	KindDeleteBranch    Kind = "delete-branch"
)

// Operation is one reversible unit of work.
type Operation interface {
	Kind() Kind
	// Describe returns a short human-readable label for reports.
	Describe() string
	Execute(ctx context.Context) error
	// Rollback undoes a completed Execute. It must tolerate being called
	// when the effect is already gone.
	Rollback(ctx context.Context) error
}

// Irreversible is implemented by operations that may have no undo.
// Operations reporting false are left in place during an unwind.
type Irreversible interface {
	CanRollback() bool
}

// Warner is implemented by operations that can finish with a non-fatal
// problem worth reporting.
type Warner interface {
	Warning() string
}

// Status is the lifecycle state of one operation in a transaction.
type Status int

const (
	StatusPending Status = iota
	StatusExecuting
	StatusCompleted
	StatusFailed
	StatusRolledBack
	StatusRollbackFailed
	StatusNotReversible
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusRolledBack:
		return "rolled back"
	case StatusRollbackFailed:
		return "rollback failed"
	case StatusNotReversible:
		return "not reversible"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Record tracks one operation through the transaction.
type Record struct {
	Op          Operation
	Kind        Kind
	Description string
	Status      Status
	Err         error // execute failure
	RollbackErr error
	Warning     string
	Duration    time.Duration
}

// Report describes the outcome of a transaction, listing every operation in
// execution order.
type Report struct {
	ID         uuid.UUID
	Owner      string
	Records    []*Record
	Committed  bool
	RolledBack bool
	Degraded   bool
	DryRun     bool
	Started    time.Time
	Duration   time.Duration
	// StateRevertErr is set when restoring the owner's state entries from
	// the snapshot failed after the unwind.
	StateRevertErr error
}

// Failed returns the record of the operation that stopped the transaction.
func (r *Report) Failed() *Record {
	for _, rec := range r.Records {
		if rec.Status == StatusFailed {
			return rec
		}
	}
	return nil
}

// RollbackFailures returns the records whose undo failed.
func (r *Report) RollbackFailures() []*Record {
	var out []*Record
	for _, rec := range r.Records {
		if rec.Status == StatusRollbackFailed {
			out = append(out, rec)
		}
	}
	return out
}

// Warnings returns the warnings raised by operations.
func (r *Report) Warnings() []string {
	var out []string
	for _, rec := range r.Records {
		if rec.Warning != "" {
			out = append(out, rec.Description+": "+rec.Warning)
		}
	}
	return out
}

// Error is returned when a transaction did not commit. It wraps the cause
// and every rollback error, so errors.Is and errors.As reach all of them.
type Error struct {
	Report       *Report
	Cause        error
	RollbackErrs []error
}

func (e *Error) Error() string {
	msg := "transaction failed"
	if f := e.Report.Failed(); f != nil {
		msg = fmt.Sprintf("%s failed", f.Description)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if n := len(e.RollbackErrs); n > 0 {
		msg += fmt.Sprintf(" (degraded: %d rollback step(s) failed)", n)
	}
	return msg
}

// Unwrap returns the cause followed by the rollback errors.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 1+len(e.RollbackErrs))
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return append(errs, e.RollbackErrs...)
}

// Degraded reports whether the unwind left changes behind.
func (e *Error) Degraded() bool {
	return e.Report.Degraded
}
