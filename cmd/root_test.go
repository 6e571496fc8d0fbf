package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/txn"
)

func TestDebugFlagDefaultTrue(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("debug")
	if flag == nil {
		t.Fatal("--debug flag not found")
	}
	if flag.DefValue != "true" {
		t.Errorf("--debug default = %q, want %q", flag.DefValue, "true")
	}
}

func TestQuietFlagExists(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("quiet")
	if flag == nil {
		t.Fatal("--quiet flag not found")
	}
	if flag.DefValue != "false" {
		t.Errorf("--quiet default = %q, want %q", flag.DefValue, "false")
	}
	if flag.Shorthand != "q" {
		t.Errorf("--quiet shorthand = %q, want %q", flag.Shorthand, "q")
	}
}

func TestDirFlagExists(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("dir")
	if flag == nil {
		t.Fatal("--dir flag not found")
	}
	if flag.Shorthand != "C" {
		t.Errorf("--dir shorthand = %q, want %q", flag.Shorthand, "C")
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"create"}, {"list"}, {"open"}, {"remove"},
		{"state", "show"}, {"state", "prune"},
		{"config", "init"}, {"config", "show"}, {"config", "validate"},
	} {
		c, _, err := rootCmd.Find(path)
		if err != nil || c == rootCmd {
			t.Errorf("command %v not registered", path)
		}
	}
}

func TestInitConfig_QuietOverridesDebug(t *testing.T) {
	origDebug, origQuiet := debugMode, quietMode
	defer func() { debugMode, quietMode = origDebug, origQuiet }()

	debugMode = true
	quietMode = true

	// Should not panic - quiet should take precedence
	initConfig()
}

func TestVersionTemplate(t *testing.T) {
	origV, origC, origD := version, commit, date
	defer SetVersionInfo(origV, origC, origD)

	SetVersionInfo("1.2.3", "none", "unknown")
	if got := versionTemplate(); got != "wg 1.2.3\n" {
		t.Errorf("versionTemplate() = %q", got)
	}
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")
	if got := versionTemplate(); got != "wg 1.2.3\n  commit: abc123\n  built:  2026-01-01\n" {
		t.Errorf("versionTemplate() = %q", got)
	}
}

func TestExitCode(t *testing.T) {
	committed := &txn.Report{ID: uuid.New()}
	degraded := &txn.Report{ID: uuid.New(), Degraded: true}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitFailure},
		{"validation", wgerrors.InvalidBranch("a..b", "contains .."), ExitValidation},
		{"wrapped validation", fmt.Errorf("create: %w", wgerrors.WorktreeExists("x")), ExitValidation},
		{"config", wgerrors.ConfigNotFound("/repo/.workgarden.yaml"), ExitFailure},
		{"rolled back", &txn.Error{Report: committed, Cause: wgerrors.PortsExhausted(1, 2)}, ExitFailure},
		{"validation inside a transaction", &txn.Error{Report: committed, Cause: wgerrors.E(wgerrors.KindValidation, "exists")}, ExitFailure},
		{"degraded", &txn.Error{Report: degraded, Cause: errors.New("hook failed")}, ExitDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
