package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/exec"
	"github.com/zhubert/workgarden/internal/template"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
}

var vars = template.Variables{
	"BRANCH":      "feature/x",
	"BRANCH_SLUG": "feature-x",
	"PORT_WEB":    "30001",
}

func TestRun_SubstitutesAndExports(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	r := NewRunner(exec.NewRealExecutor())

	results, err := r.Run(context.Background(), PostCreate, []string{
		"echo {{BRANCH}} > out.txt",
		"echo $WG_PORT_WEB >> out.txt",
	}, dir, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Command != "echo feature/x > out.txt" {
		t.Errorf("Command = %q, want substituted command", results[0].Command)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("hook output file missing: %v", err)
	}
	if string(data) != "feature/x\n30001\n" {
		t.Errorf("out.txt = %q, want %q", data, "feature/x\n30001\n")
	}
}

func TestRun_FailFastWithExitCode(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	r := NewRunner(exec.NewRealExecutor())

	results, err := r.Run(context.Background(), PostSetup, []string{
		"echo broken >&2; exit 3",
		"touch never",
	}, dir, vars)
	if !wgerrors.Is(err, wgerrors.KindHook) {
		t.Fatalf("expected KindHook error, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", results[0].ExitCode)
	}
	if results[0].Stderr != "broken\n" {
		t.Errorf("Stderr = %q, want %q", results[0].Stderr, "broken\n")
	}

	if _, err := os.Stat(filepath.Join(dir, "never")); !os.IsNotExist(err) {
		t.Error("commands after a failure must not run")
	}
}

func TestRun_UnknownVariableSpawnsNothing(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	r := NewRunner(mock)

	_, err := r.Run(context.Background(), PostCreate, []string{"echo ok", "echo {{NOPE}}"}, t.TempDir(), vars)
	var unknown *template.UnknownVariableError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownVariableError, got %v", err)
	}
	if unknown.Name != "NOPE" {
		t.Errorf("Name = %q, want %q", unknown.Name, "NOPE")
	}
	if calls := mock.GetCalls(); len(calls) != 0 {
		t.Errorf("expected no commands to run, got %v", calls)
	}
}

func TestRun_UsesShellAndEnv(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	sh, flag := shell()
	mock.AddPrefixMatch(sh, []string{flag}, exec.MockResponse{Stdout: []byte("ok")})
	r := NewRunner(mock)

	if _, err := r.Run(context.Background(), PreRemove, []string{"make down PORT={{PORT_WEB}}", "  "}, "/wt", vars); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("blank commands are skipped: expected 1 call, got %d", len(calls))
	}
	if calls[0].Dir != "/wt" {
		t.Errorf("Dir = %q, want /wt", calls[0].Dir)
	}
	if want := []string{flag, "make down PORT=30001"}; !slices.Equal(calls[0].Args, want) {
		t.Errorf("Args = %q, want %q", calls[0].Args, want)
	}
	for _, want := range []string{"WG_BRANCH=feature/x", "WG_PORT_WEB=30001"} {
		if !slices.Contains(calls[0].Env, want) {
			t.Errorf("Env missing %q: %v", want, calls[0].Env)
		}
	}
}

func TestRun_MockedFailure(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	sh, flag := shell()
	mock.AddPrefixMatch(sh, []string{flag}, exec.MockResponse{Err: &exec.ExitError{Code: 7}})
	r := NewRunner(mock)

	results, err := r.Run(context.Background(), PostCreate, []string{"false"}, "/wt", vars)
	if err == nil {
		t.Fatal("expected error")
	}
	if results[0].ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", results[0].ExitCode)
	}
	if !strings.Contains(err.Error(), "exited with code 7") {
		t.Errorf("error = %q, want exit code mentioned", err.Error())
	}
}

func TestRun_Cancelled(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r := NewRunner(exec.NewRealExecutor())

	start := time.Now()
	_, err := r.Run(ctx, PostCreate, []string{"sleep 5; echo late"}, t.TempDir(), vars)
	if !wgerrors.Is(err, wgerrors.KindHook) {
		t.Fatalf("expected KindHook error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("cancelled hook ran for %v", elapsed)
	}
}

func TestUndoable(t *testing.T) {
	tests := map[string]bool{
		PostCreate: true,
		PostSetup:  true,
		PreRemove:  false,
		PostRemove: false,
	}
	for hook, want := range tests {
		if got := Undoable(hook); got != want {
			t.Errorf("Undoable(%s) = %v, want %v", hook, got, want)
		}
	}
}

func TestResultOutput(t *testing.T) {
	if got := (Result{Stdout: "a", Stderr: "b"}).Output(); got != "a\nb" {
		t.Errorf("Output = %q, want %q", got, "a\nb")
	}
	if got := (Result{Stderr: "b"}).Output(); got != "b" {
		t.Errorf("Output = %q, want %q", got, "b")
	}
}
