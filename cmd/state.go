package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/zhubert/workgarden/internal/ui"
	"github.com/zhubert/workgarden/internal/worktree"
)

var (
	stateShowJSON      bool
	pruneDryRun        bool
	pruneRemoveOrphans bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and repair the state file",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print worktree records, port reservations and pending claims",
	Args:  cobra.NoArgs,
	RunE:  runStateShow,
}

var statePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop stale records, reservations and claims",
	Long: `Reconciles the state file with the disk:

  - records whose worktree directory no longer exists are dropped and
    their ports released
  - reservations and claims left behind by processes that are gone are
    released
  - git worktrees under the worktree base path that have no record are
    reported, and removed with --remove-orphans

Nothing here runs automatically.`,
	Args: cobra.NoArgs,
	RunE: runStatePrune,
}

func init() {
	stateShowCmd.Flags().BoolVar(&stateShowJSON, "json", false, "Print the raw state file")
	statePruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Report what would be pruned without changing anything")
	statePruneCmd.Flags().BoolVar(&pruneRemoveOrphans, "remove-orphans", false, "Also remove orphaned worktrees from disk")
	stateCmd.AddCommand(stateShowCmd, statePruneCmd)
	rootCmd.AddCommand(stateCmd)
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := newPrinter(cmd)
	m, err := newManager(ctx, p)
	if err != nil {
		return err
	}
	st, err := m.Store().Load(ctx)
	if err != nil {
		return err
	}

	if stateShowJSON {
		enc := json.NewEncoder(p.Out())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	p.Info("State file: %s", m.Store().Path())
	entries, err := m.List(ctx)
	if err != nil {
		return err
	}
	p.Worktrees(entries)
	p.Reservations(st)
	for _, c := range st.Claims {
		p.Warning("pending claim %s by pid %d since %s", c.ID, c.PID, c.ClaimedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runStatePrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := newPrinter(cmd)
	m, err := newManager(ctx, p)
	if err != nil {
		return err
	}
	rep, err := m.Prune(ctx, worktree.PruneOptions{DryRun: pruneDryRun, RemoveOrphans: pruneRemoveOrphans})
	if err != nil {
		return err
	}
	printPruneReport(p, rep)
	return nil
}

func printPruneReport(p *ui.Printer, rep *worktree.PruneReport) {
	verb := "Pruned"
	if rep.DryRun {
		verb = "Would prune"
	}
	if rep.State.Empty() && len(rep.Orphans) == 0 {
		p.Success("Nothing to prune.")
		return
	}
	for _, rec := range rep.State.Records {
		p.Success("%s record %s (%s no longer exists)", verb, rec.ID, rec.Path)
	}
	for _, r := range rep.State.Reservations {
		p.Success("%s reservation %s:%d owned by %s", verb, r.Name, r.Port, r.Owner)
	}
	for _, c := range rep.State.Claims {
		p.Success("%s claim %s (pid %d)", verb, c.ID, c.PID)
	}

	removed := make(map[string]bool, len(rep.Removed))
	for _, r := range rep.Removed {
		removed[r] = true
	}
	for _, o := range rep.Orphans {
		if removed[o] {
			p.Success("Removed orphaned worktree %s", o)
			continue
		}
		p.Warning("orphaned worktree %s has no record", o)
	}
	if len(rep.Orphans) > 0 && len(rep.Removed) == 0 {
		p.Info("Remove orphaned worktrees with 'wg state prune --remove-orphans'.")
	}
}
