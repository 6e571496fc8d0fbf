package ui

import "charm.land/lipgloss/v2"

// Color palette - Purple + Cyan/Teal theme
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorMuted     = lipgloss.Color("#6B7280") // Gray
	ColorBorder    = lipgloss.Color("#374151") // Dark gray
	ColorText      = lipgloss.Color("#F9FAFB") // Light text
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorSuccess   = lipgloss.Color("#10B981") // Green
)

// Status line styles
var (
	SuccessStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	HintStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(ColorMuted)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

// Content styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	IdentifierStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	PortStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	PathStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Underline(true)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorPrimary).
				Padding(0, 1)

	TableCellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	TableBorderStyle = lipgloss.NewStyle().
				Foreground(ColorBorder)
)

// Markers prefix status lines.
const (
	MarkSuccess  = "✓"
	MarkWarning  = "!"
	MarkError    = "✗"
	MarkInfo     = "•"
	MarkProgress = "→"
	MarkRollback = "↺"
	MarkSkipped  = "-"
)
