package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/zhubert/workgarden/internal/state"
	"github.com/zhubert/workgarden/internal/worktree"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List managed worktrees with their ports and status",
	Long: `Lists every worktree recorded in the state file. STATUS is OK when the
directory exists and is clean, Modified when it has uncommitted changes
(files wg generated do not count) and Missing when the directory is gone.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(listCmd)
}

// listEntry is the JSON shape of one worktree.
type listEntry struct {
	*state.WorktreeRecord
	Status worktree.Status `json:"status"`
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := newPrinter(cmd)
	m, err := newManager(ctx, p)
	if err != nil {
		return err
	}
	entries, err := m.List(ctx)
	if err != nil {
		return err
	}

	if listJSON {
		out := make([]listEntry, len(entries))
		for i, e := range entries {
			out[i] = listEntry{WorktreeRecord: e.Record, Status: e.Status}
		}
		enc := json.NewEncoder(p.Out())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	p.Worktrees(entries)
	return nil
}
