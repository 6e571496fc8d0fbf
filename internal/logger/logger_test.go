package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// setupTestLogger creates a temp log file and initializes the logger with it.
func setupTestLogger(t *testing.T) string {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	logPath := filepath.Join(t.TempDir(), "test-debug.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestLevels(t *testing.T) {
	logPath := setupTestLogger(t)
	log := ComponentLogger("state")

	log.Debug("hidden-debug")
	log.Info("visible-info")
	log.Warn("visible-warn")
	log.Error("visible-error")

	content := readLog(t, logPath)
	if strings.Contains(content, "hidden-debug") {
		t.Error("debug is filtered at info level")
	}
	for _, want := range []string{"visible-info", "visible-warn", "visible-error"} {
		if !strings.Contains(content, want) {
			t.Errorf("log missing %q", want)
		}
	}
}

func TestSetDebug_AppliesToExistingLoggers(t *testing.T) {
	logPath := setupTestLogger(t)
	log := ComponentLogger("hooks")

	SetDebug(true)
	log.Debug("debug-enabled-marker")
	SetDebug(false)
	log.Debug("debug-disabled-marker")

	content := readLog(t, logPath)
	if !strings.Contains(content, "debug-enabled-marker") {
		t.Error("debug message missing after SetDebug(true)")
	}
	if strings.Contains(content, "debug-disabled-marker") {
		t.Error("debug message logged after SetDebug(false)")
	}
}

func TestAttributes(t *testing.T) {
	logPath := setupTestLogger(t)

	ComponentLogger("ports").Info("reserved", "port", 10000)
	WithWorktree("feature-x").Info("created")

	content := readLog(t, logPath)
	for _, want := range []string{"component=ports", "port=10000", "worktree=feature-x"} {
		if !strings.Contains(content, want) {
			t.Errorf("log missing %q:\n%s", want, content)
		}
	}
}

func TestInitWriter(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var buf bytes.Buffer
	InitWriter(&buf)
	ComponentLogger("txn").Info("to-writer")

	if !strings.Contains(buf.String(), "to-writer") {
		t.Errorf("writer output = %q, want to-writer", buf.String())
	}
	if Path() != "" {
		t.Errorf("Path = %q, want empty when logging to a writer", Path())
	}
}

func TestInit_IgnoredOnceStarted(t *testing.T) {
	first := setupTestLogger(t)
	second := filepath.Join(t.TempDir(), "second.log")

	if err := Init(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Path() != first {
		t.Errorf("Path = %q, want %q", Path(), first)
	}
	if _, err := os.Stat(second); !os.IsNotExist(err) {
		t.Errorf("second log file should not exist, stat err = %v", err)
	}
}

func TestInit_Stderr(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	if err := Init(Stderr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Path() != "" {
		t.Errorf("Path = %q, want empty", Path())
	}
}

func TestInit_BadPath(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	if err := Init(filepath.Join(t.TempDir(), "missing", "dir", "log")); err == nil {
		t.Error("expected error for a log path in a missing directory")
	}
}

func TestConcurrentLogging(t *testing.T) {
	logPath := setupTestLogger(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log := WithWorktree("wt")
			for j := 0; j < 100; j++ {
				log.Info("concurrent", "n", n, "j", j)
			}
		}(i)
	}
	wg.Wait()
	if got := strings.Count(readLog(t, logPath), "concurrent"); got != 1000 {
		t.Errorf("logged %d lines, want 1000", got)
	}
}

func TestReset(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	tmpDir := t.TempDir()

	logPath1 := filepath.Join(tmpDir, "log1.log")
	if err := Init(logPath1); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ComponentLogger("a").Info("message to log1")

	Reset()

	logPath2 := filepath.Join(tmpDir, "log2.log")
	if err := Init(logPath2); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ComponentLogger("b").Info("message to log2")

	content1 := readLog(t, logPath1)
	if !strings.Contains(content1, "message to log1") || strings.Contains(content1, "message to log2") {
		t.Errorf("log1 content wrong:\n%s", content1)
	}
	content2 := readLog(t, logPath2)
	if !strings.Contains(content2, "message to log2") || strings.Contains(content2, "message to log1") {
		t.Errorf("log2 content wrong:\n%s", content2)
	}
}

func TestCloseIsSafe(t *testing.T) {
	setupTestLogger(t)
	Close()
	Close()
	// Logging after close must not panic.
	ComponentLogger("git").Info("after close")
}
