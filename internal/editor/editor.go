// Package editor picks an editor command and opens worktrees in it.
package editor

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/anmitsu/go-shlex"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/logger"
)

// Info describes a known editor.
type Info struct {
	Name      string
	Command   string
	Available bool
}

// Known editors, in detection order.
var Known = []Info{
	{Name: "VS Code", Command: "code"},
	{Name: "Cursor", Command: "cursor"},
	{Name: "Zed", Command: "zed"},
	{Name: "Sublime Text", Command: "subl"},
	{Name: "Neovim", Command: "nvim"},
	{Name: "Vim", Command: "vim"},
	{Name: "Emacs", Command: "emacs"},
	{Name: "IntelliJ IDEA", Command: "idea"},
	{Name: "GoLand", Command: "goland"},
}

// Launcher resolves and starts editors. The zero value is not usable; use
// New.
type Launcher struct {
	lookPath func(string) (string, error)
	getenv   func(string) string
	start    func(*exec.Cmd) error
}

// New returns a launcher using the real environment and PATH.
func New() *Launcher {
	return &Launcher{
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
		start:    startDetached,
	}
}

// Detect reports which known editors are on PATH.
func (l *Launcher) Detect() []Info {
	out := make([]Info, len(Known))
	for i, e := range Known {
		_, err := l.lookPath(e.Command)
		e.Available = err == nil
		out[i] = e
	}
	return out
}

// Resolve picks the editor command: the explicit choice, then the
// configured command, then $VISUAL, then $EDITOR, then the first known
// editor found on PATH. It returns "" when nothing is available.
func (l *Launcher) Resolve(explicit, configured string) string {
	for _, c := range []string{explicit, configured, l.getenv("VISUAL"), l.getenv("EDITOR")} {
		if c != "" {
			return c
		}
	}
	for _, e := range l.Detect() {
		if e.Available {
			return e.Command
		}
	}
	return ""
}

// Open starts command with path as its last argument and returns without
// waiting for it. command may carry arguments, e.g. "code --new-window".
func (l *Launcher) Open(path, command string) error {
	op := wgerrors.Op("editor.Open")
	if command == "" {
		return wgerrors.E(op, wgerrors.KindNotFound, "no editor available",
			wgerrors.Hint("set editor.command in .workgarden.yaml, or $VISUAL / $EDITOR"))
	}
	args, err := shlex.Split(command, true)
	if err != nil {
		return wgerrors.E(op, wgerrors.KindConfig, fmt.Sprintf("parsing editor command %q", command), err)
	}
	if len(args) == 0 {
		return wgerrors.E(op, wgerrors.KindConfig, fmt.Sprintf("empty editor command %q", command))
	}
	bin, err := l.lookPath(args[0])
	if err != nil {
		return wgerrors.E(op, wgerrors.KindNotFound, fmt.Sprintf("editor %q not found in PATH", args[0]), err)
	}

	cmd := exec.Command(bin, append(args[1:], path)...)
	if err := l.start(cmd); err != nil {
		return wgerrors.E(op, wgerrors.KindIO, fmt.Sprintf("launching %s", command), err)
	}
	logger.ComponentLogger("editor").Info("opened editor", "command", command, "path", path)
	return nil
}

// startDetached starts cmd in its own session with no stdio so it
// outlives wg.
func startDetached(cmd *exec.Cmd) error {
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
