package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/mattn/go-isatty"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/hooks"
	"github.com/zhubert/workgarden/internal/state"
	"github.com/zhubert/workgarden/internal/txn"
)

// Printer formats command output. Results go to out; progress, warnings and
// errors go to errOut so piping results stays clean.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	color  bool
	quiet  bool
}

// PrinterOption configures a Printer.
type PrinterOption func(*Printer)

// WithColor forces color on or off.
func WithColor(on bool) PrinterOption {
	return func(p *Printer) { p.color = on }
}

// WithQuiet suppresses progress and informational lines. Errors,
// warnings and requested data are still printed.
func WithQuiet(quiet bool) PrinterOption {
	return func(p *Printer) { p.quiet = quiet }
}

// NewPrinter returns a printer writing to out and errOut. Color is enabled
// when out is a terminal and NO_COLOR is unset.
func NewPrinter(out, errOut io.Writer, opts ...PrinterOption) *Printer {
	p := &Printer{
		out:    out,
		errOut: errOut,
		color:  IsTerminal(out) && os.Getenv("NO_COLOR") == "",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Out returns the result writer, for raw output such as JSON.
func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) paint(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// Success prints a completed action.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(SuccessStyle, MarkSuccess), fmt.Sprintf(format, args...))
}

// Info prints an informational line unless quiet.
func (p *Printer) Info(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.paint(InfoStyle, MarkInfo), fmt.Sprintf(format, args...))
}

// Println prints a plain line to the result writer.
func (p *Printer) Println(s string) {
	fmt.Fprintln(p.out, s)
}

// Warning prints a non-fatal problem.
func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintf(p.errOut, "%s %s\n", p.paint(WarningStyle, MarkWarning), fmt.Sprintf(format, args...))
}

// Error prints err followed by its remediation hint, if any.
func (p *Printer) Error(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(p.errOut, "%s %s\n", p.paint(ErrorStyle, MarkError+" error:"), err)
	if hint := wgerrors.GetHint(err); hint != "" {
		fmt.Fprintf(p.errOut, "  %s\n", p.paint(HintStyle, "hint: "+hint))
	}
}

// Event prints one progress line for a transaction event.
func (p *Printer) Event(e txn.Event) {
	if p.quiet && e.Type != txn.EventRollbackFailed && e.Type != txn.EventWarning {
		return
	}
	var mark string
	var style lipgloss.Style
	suffix := ""
	switch e.Type {
	case txn.EventStarting:
		mark, style = MarkProgress, MutedStyle
	case txn.EventCompleted:
		mark, style = MarkSuccess, SuccessStyle
		suffix = " " + p.paint(MutedStyle, formatDuration(e.Record.Duration))
	case txn.EventFailed:
		mark, style = MarkError, ErrorStyle
	case txn.EventRollingBack:
		mark, style = MarkRollback, WarningStyle
		suffix = " " + p.paint(MutedStyle, "(rolling back)")
	case txn.EventRolledBack:
		mark, style = MarkRollback, SuccessStyle
		suffix = " " + p.paint(MutedStyle, "(rolled back)")
	case txn.EventRollbackFailed:
		mark, style = MarkError, ErrorStyle
		suffix = " " + p.paint(ErrorStyle, "(rollback failed)")
	case txn.EventSkipped:
		mark, style = MarkSkipped, MutedStyle
		if e.Record.Status == txn.StatusNotReversible {
			suffix = " " + p.paint(WarningStyle, "(not reversible, left in place)")
		} else {
			suffix = " " + p.paint(MutedStyle, "(dry run)")
		}
	case txn.EventWarning:
		mark, style = MarkWarning, WarningStyle
		suffix = ": " + e.Record.Warning
	default:
		return
	}
	step := fmt.Sprintf("[%d/%d]", e.Index+1, e.Total)
	fmt.Fprintf(p.errOut, "%s %s %s%s\n", p.paint(MutedStyle, step), p.paint(style, mark), e.Record.Description, suffix)
}

// Report prints the outcome of a transaction that did not commit: every
// operation with its final status and the errors behind it.
func (p *Printer) Report(r *txn.Report) {
	if r == nil {
		return
	}
	title := "Transaction rolled back"
	if r.Degraded {
		title = "Transaction rolled back with errors (manual cleanup needed)"
	}
	fmt.Fprintf(p.errOut, "\n%s %s\n", p.paint(TitleStyle, title), p.paint(MutedStyle, r.ID.String()))
	for i, rec := range r.Records {
		fmt.Fprintf(p.errOut, "  %2d. %s %s\n", i+1, p.statusLabel(rec.Status), rec.Description)
		if rec.Err != nil {
			fmt.Fprintf(p.errOut, "      %s\n", p.paint(ErrorStyle, rec.Err.Error()))
		}
		if rec.RollbackErr != nil {
			fmt.Fprintf(p.errOut, "      %s\n", p.paint(ErrorStyle, "undo: "+rec.RollbackErr.Error()))
		}
	}
	if r.StateRevertErr != nil {
		fmt.Fprintf(p.errOut, "  %s\n", p.paint(ErrorStyle, "state revert: "+r.StateRevertErr.Error()))
	}
	if r.Degraded {
		fmt.Fprintf(p.errOut, "  %s\n", p.paint(HintStyle, "hint: run 'wg state prune' and inspect the steps marked 'rollback failed'"))
	}
}

func (p *Printer) statusLabel(s txn.Status) string {
	label := s.String()
	padded := fmt.Sprintf("%-16s", label)
	switch s {
	case txn.StatusCompleted, txn.StatusRolledBack:
		return p.paint(SuccessStyle, padded)
	case txn.StatusFailed, txn.StatusRollbackFailed:
		return p.paint(ErrorStyle, padded)
	case txn.StatusNotReversible:
		return p.paint(WarningStyle, padded)
	default:
		return p.paint(MutedStyle, padded)
	}
}

// HookOutput prints the captured output of hook commands.
func (p *Printer) HookOutput(results []hooks.Result) {
	if p.quiet {
		return
	}
	for _, r := range results {
		out := strings.TrimRight(r.Output(), "\n")
		if out == "" {
			continue
		}
		fmt.Fprintf(p.errOut, "%s %s\n", p.paint(MutedStyle, r.Hook+":"), r.Command)
		for _, line := range strings.Split(out, "\n") {
			fmt.Fprintf(p.errOut, "    %s\n", line)
		}
	}
}

// WorktreeRecord prints the details of one worktree.
func (p *Printer) WorktreeRecord(rec *state.WorktreeRecord) {
	fmt.Fprintf(p.out, "  %-8s %s\n", "id", p.paint(IdentifierStyle, rec.ID))
	fmt.Fprintf(p.out, "  %-8s %s\n", "branch", rec.Branch)
	if rec.BaseBranch != "" {
		fmt.Fprintf(p.out, "  %-8s %s\n", "base", rec.BaseBranch)
	}
	fmt.Fprintf(p.out, "  %-8s %s\n", "path", p.paint(PathStyle, rec.Path))
	if len(rec.Ports) > 0 {
		fmt.Fprintf(p.out, "  %-8s %s\n", "ports", p.FormatPorts(rec.Ports))
	}
	for _, o := range rec.Overlays {
		fmt.Fprintf(p.out, "  %-8s %s\n", "overlay", o)
	}
}

// FormatPorts renders allocations as "NAME=port" pairs sorted by name.
func (p *Printer) FormatPorts(allocs []state.PortAllocation) string {
	sorted := make([]state.PortAllocation, len(allocs))
	copy(sorted, allocs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	parts := make([]string, len(sorted))
	for i, a := range sorted {
		parts[i] = fmt.Sprintf("%s=%s", a.Name, p.paint(PortStyle, fmt.Sprint(a.Port)))
	}
	return strings.Join(parts, " ")
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return "(<1ms)"
	}
	return "(" + d.Round(time.Millisecond).String() + ")"
}
