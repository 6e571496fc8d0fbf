package ui

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/zhubert/workgarden/internal/state"
	"github.com/zhubert/workgarden/internal/worktree"
)

// Table prints rows under headers. cellStyle, when non-nil, picks the style
// of a data cell; the zero index is the first data row.
func (p *Printer) Table(headers []string, rows [][]string, cellStyle func(row, col int) lipgloss.Style) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if !p.color {
				return lipgloss.NewStyle().Padding(0, 1)
			}
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			if cellStyle != nil {
				return cellStyle(row, col).Padding(0, 1)
			}
			return TableCellStyle
		})
	if p.color {
		t = t.BorderStyle(TableBorderStyle)
	}
	fmt.Fprintln(p.out, t.String())
}

// Worktrees prints the worktree list.
func (p *Printer) Worktrees(entries []worktree.Entry) {
	if len(entries) == 0 {
		p.Info("No worktrees. Create one with 'wg create <branch>'.")
		return
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.Record.ID, e.Record.Branch, string(e.Status), portList(e.Record.Ports), e.Record.Path}
	}
	p.Table([]string{"ID", "BRANCH", "STATUS", "PORTS", "PATH"}, rows, func(row, col int) lipgloss.Style {
		switch col {
		case 0:
			return IdentifierStyle
		case 2:
			return statusStyle(entries[row].Status)
		case 3:
			return PortStyle
		}
		return lipgloss.NewStyle()
	})
}

// Reservations prints the port reservation table of a state file.
func (p *Printer) Reservations(st *state.State) {
	if len(st.Reservations) == 0 {
		p.Info("No port reservations.")
		return
	}
	rows := make([][]string, len(st.Reservations))
	for i, r := range st.Reservations {
		rows[i] = []string{fmt.Sprint(r.Port), r.Name, r.Owner, fmt.Sprint(r.PID), r.ReservedAt.Format("2006-01-02 15:04:05")}
	}
	p.Table([]string{"PORT", "NAME", "OWNER", "PID", "RESERVED"}, rows, func(row, col int) lipgloss.Style {
		if col == 0 {
			return PortStyle
		}
		return lipgloss.NewStyle()
	})
}

func statusStyle(s worktree.Status) lipgloss.Style {
	switch s {
	case worktree.StatusOK:
		return SuccessStyle
	case worktree.StatusModified:
		return WarningStyle
	default:
		return ErrorStyle
	}
}

func portList(allocs []state.PortAllocation) string {
	if len(allocs) == 0 {
		return "-"
	}
	parts := make([]string, len(allocs))
	for i, a := range allocs {
		parts[i] = fmt.Sprintf("%s:%d", a.Name, a.Port)
	}
	return strings.Join(parts, " ")
}
