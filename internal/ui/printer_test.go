package ui

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/hooks"
	"github.com/zhubert/workgarden/internal/state"
	"github.com/zhubert/workgarden/internal/txn"
	"github.com/zhubert/workgarden/internal/worktree"
)

func newTestPrinter(opts ...PrinterOption) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut, opts...), &out, &errOut
}

func checkContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestNewPrinter_NoColorForBuffers(t *testing.T) {
	p, out, _ := newTestPrinter()
	p.Success("created %s", "feature-x")
	if got := out.String(); got != "✓ created feature-x\n" {
		t.Errorf("Success output = %q, want %q", got, "✓ created feature-x\n")
	}
	if IsTerminal(out) {
		t.Error("a buffer is not a terminal")
	}
}

func TestError_PrintsHint(t *testing.T) {
	p, _, errOut := newTestPrinter()
	p.Error(wgerrors.UncommittedChanges("/wt/feature-x"))
	checkContains(t, errOut.String(), "✗ error:", "/wt/feature-x", "hint: ")

	errOut.Reset()
	p.Error(errors.New("plain"))
	if got := errOut.String(); got != "✗ error: plain\n" {
		t.Errorf("Error output = %q, want %q", got, "✗ error: plain\n")
	}
}

func TestQuiet_SuppressesProgressButNotWarnings(t *testing.T) {
	p, out, errOut := newTestPrinter(WithQuiet(true))
	rec := &txn.Record{Description: "run post_create hooks", Warning: "exit 1"}

	p.Info("hello")
	p.Event(txn.Event{Type: txn.EventStarting, Index: 0, Total: 2, Record: rec})
	if out.Len() != 0 || errOut.Len() != 0 {
		t.Errorf("quiet printer wrote progress: out=%q err=%q", out.String(), errOut.String())
	}

	p.Event(txn.Event{Type: txn.EventWarning, Index: 1, Total: 2, Record: rec})
	p.Warning("careful")
	checkContains(t, errOut.String(), "[2/2] ! run post_create hooks: exit 1", "! careful")
}

func TestEvent_Lines(t *testing.T) {
	p, _, errOut := newTestPrinter()
	rec := &txn.Record{Description: "allocate ports for feature-x", Duration: 12 * time.Millisecond}

	p.Event(txn.Event{Type: txn.EventCompleted, Index: 1, Total: 8, Record: rec})
	rec.Status = txn.StatusNotReversible
	p.Event(txn.Event{Type: txn.EventSkipped, Index: 1, Total: 8, Record: rec})
	rec.Status = txn.StatusSkipped
	p.Event(txn.Event{Type: txn.EventSkipped, Index: 1, Total: 8, Record: rec})
	p.Event(txn.Event{Type: txn.EventRollbackFailed, Index: 1, Total: 8, Record: rec})

	lines := strings.Split(strings.TrimSpace(errOut.String()), "\n")
	want := []string{
		"[2/8] ✓ allocate ports for feature-x (12ms)",
		"[2/8] - allocate ports for feature-x (not reversible, left in place)",
		"[2/8] - allocate ports for feature-x (dry run)",
		"[2/8] ✗ allocate ports for feature-x (rollback failed)",
	}
	if !slices.Equal(lines, want) {
		t.Errorf("event lines:\n%s\nwant:\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestReport_ListsEveryOperation(t *testing.T) {
	p, _, errOut := newTestPrinter()
	r := &txn.Report{
		ID: uuid.New(),
		Records: []*txn.Record{
			{Description: "create worktree", Status: txn.StatusRolledBack},
			{Description: "copy .env", Status: txn.StatusRollbackFailed, RollbackErr: errors.New("permission denied")},
			{Description: "run post_create hooks", Status: txn.StatusFailed, Err: errors.New("exit 2")},
			{Description: "record worktree", Status: txn.StatusPending},
		},
		RolledBack: true,
		Degraded:   true,
	}
	p.Report(r)
	checkContains(t, errOut.String(),
		"manual cleanup needed",
		" 1. rolled back",
		" 2. rollback failed",
		"undo: permission denied",
		" 3. failed",
		"exit 2",
		" 4. pending",
		"wg state prune",
	)
}

func TestHookOutput(t *testing.T) {
	p, _, errOut := newTestPrinter()
	p.HookOutput([]hooks.Result{
		{Hook: "post_create", Command: "make up", Stdout: "started\nready\n"},
		{Hook: "post_create", Command: "true"},
	})
	want := "post_create: make up\n    started\n    ready\n"
	if got := errOut.String(); got != want {
		t.Errorf("HookOutput = %q, want %q", got, want)
	}
}

func TestWorktreeRecord(t *testing.T) {
	p, out, _ := newTestPrinter()
	p.WorktreeRecord(&state.WorktreeRecord{
		ID:       "feature-x",
		Branch:   "feature/x",
		Path:     "/wt/feature-x",
		Ports:    []state.PortAllocation{{Name: "WEB", Port: 30002}, {Name: "DB", Port: 30001}},
		Overlays: []string{"docker-compose.worktree.yml"},
	})
	got := out.String()
	checkContains(t, got, "feature/x", "DB=30001 WEB=30002", "docker-compose.worktree.yml")
	if strings.Contains(got, "base") {
		t.Errorf("no base line expected without a base branch:\n%s", got)
	}
}

func TestWorktrees_Table(t *testing.T) {
	p, out, _ := newTestPrinter()
	p.Worktrees([]worktree.Entry{
		{Record: &state.WorktreeRecord{ID: "feature-x", Branch: "feature/x", Path: "/wt/feature-x",
			Ports: []state.PortAllocation{{Name: "WEB", Port: 30001}}}, Status: worktree.StatusOK},
		{Record: &state.WorktreeRecord{ID: "bugfix", Branch: "bugfix", Path: "/wt/bugfix"}, Status: worktree.StatusMissing},
	})
	got := out.String()
	checkContains(t, got, "ID", "STATUS", "feature-x", "WEB:30001", "OK", "bugfix", "Missing")
	if strings.Contains(got, "\x1b[") {
		t.Error("no escape codes without a terminal")
	}
}

func TestWorktrees_Empty(t *testing.T) {
	p, out, _ := newTestPrinter()
	p.Worktrees(nil)
	checkContains(t, out.String(), "No worktrees")
}

func TestColor_Forced(t *testing.T) {
	p, out, _ := newTestPrinter(WithColor(true))
	p.Success("done")
	checkContains(t, out.String(), "\x1b[")
}
