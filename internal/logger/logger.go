// Package logger writes wg's diagnostic log. User-facing output goes
// through internal/ui; this log is for debugging failed transactions and
// hooks after the fact.
//
// Every package asks for a component logger once and logs structured
// attributes:
//
//	log := logger.ComponentLogger("ports")
//	log.Info("reserved port", "name", "WEB", "port", 10000)
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Stderr as a log path sends the log to standard error.
const Stderr = "-"

var (
	mu       sync.Mutex
	base     *slog.Logger
	levelVar = new(slog.LevelVar)
	level    = LevelInfo
	file     *os.File
	path     string
	ready    bool
)

// DefaultLogPath is where the log goes when Init is never called.
func DefaultLogPath() string {
	return filepath.Join(os.TempDir(), "workgarden-debug.log")
}

// SetLevel sets the minimum level written.
func SetLevel(l LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	levelVar.Set(l.slogLevel())
}

// SetDebug switches between debug and info level.
func SetDebug(enabled bool) {
	if enabled {
		SetLevel(LevelDebug)
	} else {
		SetLevel(LevelInfo)
	}
}

// Init directs the log to p, appending to an existing file. Stderr writes
// to standard error. Init is a no-op once logging has started.
func Init(p string) error {
	mu.Lock()
	defer mu.Unlock()

	if ready {
		return nil
	}
	if p == Stderr {
		use(os.Stderr, "")
		return nil
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", p, err)
	}
	file = f
	use(f, p)
	return nil
}

// InitWriter directs the log to w.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	use(w, "")
}

// use must be called with mu held.
func use(w io.Writer, p string) {
	path = p
	levelVar.Set(level.slogLevel())
	base = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar}))
	ready = true
	if p != "" {
		base.Debug("log opened", "path", p, "pid", os.Getpid())
	}
}

// lazyInit opens the default log file on first use. mu must be held.
func lazyInit() {
	if ready {
		return
	}
	ready = true
	p := DefaultLogPath()
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file %s: %v\n", p, err)
		return
	}
	file = f
	use(f, p)
}

// Path returns the file currently receiving the log, or "" when logging
// to a writer.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return path
}

// Close flushes and closes the log file. Later log calls are discarded.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}
	base = nil
}

// Reset returns the package to its initial state so tests can re-Init.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}
	base = nil
	path = ""
	ready = false
	level = LevelInfo
	levelVar = new(slog.LevelVar)
}

func with(attr slog.Attr) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	lazyInit()
	if base == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return base.With(attr)
}

// ComponentLogger returns a logger tagged with component=name.
func ComponentLogger(component string) *slog.Logger {
	return with(slog.String("component", component))
}

// WithWorktree returns a logger tagged with the worktree identifier.
func WithWorktree(id string) *slog.Logger {
	return with(slog.String("worktree", id))
}
