// Package ui renders wg's terminal output.
//
// # Overview
//
// Commands never print directly. They hand results to a Printer, which
// decides on color based on whether the output is a terminal and formats:
//
//   - Status lines: Success, Warning, Info and Error (with remediation hint)
//   - Progress: one line per transaction event while operations run
//   - Reports: the per-operation outcome after a rollback, including steps
//     that could not be undone
//   - Tables: the worktree list and state dumps
//
// # Styles
//
// All styles live in styles.go. The palette:
//   - ColorPrimary (#7C3AED): purple, headings and identifiers
//   - ColorSecondary (#06B6D4): cyan, ports and paths
//   - ColorSuccess / ColorWarning / ColorError: operation outcome markers
//   - ColorMuted (#6B7280): durations and secondary text
//
// With color disabled every style is bypassed, so output is plain text
// suitable for pipes and log files.
package ui
