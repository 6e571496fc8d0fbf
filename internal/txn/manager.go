package txn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/logger"
	"github.com/zhubert/workgarden/internal/state"
)

// Snapshotter captures the state before a transaction and restores the
// entries owned by the transaction after a rollback.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*state.Snapshot, error)
	Revert(ctx context.Context, snap *state.Snapshot, owner string) error
}

// EventType names a progress event.
type EventType string

// Progress events.
const (
	EventStarting       EventType = "starting"
	EventCompleted      EventType = "completed"
	EventFailed         EventType = "failed"
	EventRollingBack    EventType = "rolling_back"
	EventRolledBack     EventType = "rolled_back"
	EventRollbackFailed EventType = "rollback_failed"
	EventSkipped        EventType = "skipped"
	EventWarning        EventType = "warning"
)

// Event reports progress of one operation.
type Event struct {
	Type   EventType
	Index  int // position in the plan, 0-based
	Total  int
	Record *Record
}

// Manager executes transactions.
type Manager struct {
	snapshots Snapshotter
	onEvent   func(Event)
	dryRun    bool
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithEvents registers a progress callback.
func WithEvents(fn func(Event)) Option {
	return func(m *Manager) { m.onEvent = fn }
}

// WithDryRun makes Execute report the plan without running it.
func WithDryRun(dryRun bool) Option {
	return func(m *Manager) { m.dryRun = dryRun }
}

// NewManager returns a manager. snapshots may be nil when the operations do
// not touch the state store.
func NewManager(snapshots Snapshotter, opts ...Option) *Manager {
	m := &Manager{
		snapshots: snapshots,
		now:       time.Now,
		log:       logger.ComponentLogger("txn"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) emit(t EventType, i, total int, rec *Record) {
	if m.onEvent != nil {
		m.onEvent(Event{Type: t, Index: i, Total: total, Record: rec})
	}
}

// Execute runs ops in order on behalf of owner, the worktree identifier
// whose state entries the transaction may change. It returns a report in
// every case; the error is a *Error when the transaction did not commit.
func (m *Manager) Execute(ctx context.Context, owner string, ops []Operation) (*Report, error) {
	report := &Report{
		ID:      uuid.New(),
		Owner:   owner,
		Started: m.now(),
		DryRun:  m.dryRun,
	}
	for _, op := range ops {
		report.Records = append(report.Records, &Record{Op: op, Kind: op.Kind(), Description: op.Describe()})
	}
	log := m.log.With("tx", report.ID.String(), "owner", owner)
	total := len(ops)

	if m.dryRun {
		for i, rec := range report.Records {
			rec.Status = StatusSkipped
			m.emit(EventSkipped, i, total, rec)
		}
		log.Info("dry run", "operations", total)
		return report, nil
	}

	var snap *state.Snapshot
	if m.snapshots != nil {
		var err error
		snap, err = m.snapshots.Snapshot(ctx)
		if err != nil {
			log.Error("snapshot failed, nothing executed", "error", err)
			report.Duration = m.now().Sub(report.Started)
			return report, &Error{Report: report, Cause: wgerrors.E(wgerrors.Op("txn.Execute"), wgerrors.KindState, "taking state snapshot", err)}
		}
	}

	log.Info("transaction started", "operations", total)
	var completed []int
	var cause error
	for i, rec := range report.Records {
		if err := ctx.Err(); err != nil {
			rec.Status = StatusFailed
			rec.Err = err
			cause = err
			m.emit(EventFailed, i, total, rec)
			break
		}

		rec.Status = StatusExecuting
		m.emit(EventStarting, i, total, rec)
		start := m.now()
		err := rec.Op.Execute(ctx)
		rec.Duration = m.now().Sub(start)

		if err != nil {
			rec.Status = StatusFailed
			rec.Err = err
			cause = err
			log.Error("operation failed", "op", rec.Description, "kind", rec.Kind, "error", err)
			m.emit(EventFailed, i, total, rec)
			break
		}

		rec.Status = StatusCompleted
		completed = append(completed, i)
		log.Debug("operation completed", "op", rec.Description, "duration", rec.Duration)
		m.emit(EventCompleted, i, total, rec)
		if w, ok := rec.Op.(Warner); ok {
			if msg := w.Warning(); msg != "" {
				rec.Warning = msg
				log.Warn("operation warning", "op", rec.Description, "warning", msg)
				m.emit(EventWarning, i, total, rec)
			}
		}
	}

	if cause == nil {
		report.Committed = true
		report.Duration = m.now().Sub(report.Started)
		log.Info("transaction committed", "duration", report.Duration)
		return report, nil
	}

	rollbackErrs := m.unwind(context.WithoutCancel(ctx), report, completed, snap, log)
	report.RolledBack = true
	report.Degraded = len(rollbackErrs) > 0
	report.Duration = m.now().Sub(report.Started)
	if report.Degraded {
		log.Error("transaction degraded", "rollbackFailures", len(rollbackErrs))
	} else {
		log.Info("transaction rolled back")
	}
	return report, &Error{Report: report, Cause: cause, RollbackErrs: rollbackErrs}
}

// unwind rolls back completed operations in reverse completion order, then
// restores the owner's state entries from the snapshot.
func (m *Manager) unwind(ctx context.Context, report *Report, completed []int, snap *state.Snapshot, log *slog.Logger) []error {
	var errs []error
	total := len(report.Records)
	for j := len(completed) - 1; j >= 0; j-- {
		i := completed[j]
		rec := report.Records[i]

		if ir, ok := rec.Op.(Irreversible); ok && !ir.CanRollback() {
			rec.Status = StatusNotReversible
			log.Warn("operation has no undo", "op", rec.Description)
			m.emit(EventSkipped, i, total, rec)
			continue
		}

		m.emit(EventRollingBack, i, total, rec)
		if err := rec.Op.Rollback(ctx); err != nil {
			rec.Status = StatusRollbackFailed
			rec.RollbackErr = err
			errs = append(errs, wgerrors.E(wgerrors.Op("txn.Rollback"), wgerrors.KindRollback,
				fmt.Sprintf("undoing %s", rec.Description), err))
			log.Error("rollback failed", "op", rec.Description, "error", err)
			m.emit(EventRollbackFailed, i, total, rec)
			continue
		}
		rec.Status = StatusRolledBack
		log.Debug("rolled back", "op", rec.Description)
		m.emit(EventRolledBack, i, total, rec)
	}

	if snap != nil && m.snapshots != nil && report.Owner != "" {
		if err := m.snapshots.Revert(ctx, snap, report.Owner); err != nil {
			report.StateRevertErr = err
			errs = append(errs, wgerrors.E(wgerrors.Op("txn.Rollback"), wgerrors.KindRollback, "restoring state entries", err))
			log.Error("state revert failed", "error", err)
		}
	}
	return errs
}
