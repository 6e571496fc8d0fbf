package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/worktree"
)

var (
	removeForce      bool
	removeKeepBranch bool
	removeNoHooks    bool
	skipConfirm      bool
)

var removeCmd = &cobra.Command{
	Use:     "remove <branch>",
	Aliases: []string{"rm"},
	Short:   "Remove a worktree, release its ports and delete its branch",
	Long: `Runs the pre_remove hooks, removes the worktree directory, drops its
state record (releasing its ports), deletes the branch and runs the
post_remove hooks.

A worktree with uncommitted changes is refused unless --force is given.
Files wg generated (overlays, env copies) do not count as changes.
It will prompt for confirmation before proceeding unless the --yes flag is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "Remove even with uncommitted changes; force-delete an unmerged branch")
	removeCmd.Flags().BoolVar(&removeKeepBranch, "keep-branch", false, "Keep the git branch")
	removeCmd.Flags().BoolVar(&removeNoHooks, "no-hooks", false, "Skip pre_remove and post_remove hooks")
	removeCmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := newPrinter(cmd)
	m, err := newManager(ctx, p)
	if err != nil {
		return err
	}
	rec, err := m.Find(ctx, args[0])
	if err != nil {
		return err
	}

	if !skipConfirm {
		in := cmd.InOrStdin()
		if !stdinIsTerminal(in) {
			return wgerrors.E(wgerrors.Op("cmd.remove"), wgerrors.KindValidation,
				"refusing to prompt for confirmation without a terminal",
				wgerrors.Hint("pass --yes to remove without confirmation"))
		}
		what := rec.Path
		if !removeKeepBranch {
			what += " and branch " + rec.Branch
		}
		if !confirm(in, cmd.ErrOrStderr(), fmt.Sprintf("Remove worktree %s?", what)) {
			p.Info("Aborted.")
			return nil
		}
	}

	res, err := m.Remove(ctx, worktree.RemoveOptions{
		Branch:     rec.ID,
		Force:      removeForce,
		KeepBranch: removeKeepBranch,
		SkipHooks:  removeNoHooks,
	})
	if res != nil {
		p.HookOutput(res.Hooks)
	}
	if err != nil {
		return err
	}

	p.Success("Removed worktree %s", rec.ID)
	if len(rec.Ports) > 0 {
		p.Info("Released ports %s", p.FormatPorts(rec.Ports))
	}
	for _, w := range res.Warnings() {
		p.Warning("%s", w)
	}
	return nil
}

// confirm prompts the user for y/n confirmation
func confirm(input io.Reader, out io.Writer, prompt string) bool {
	reader := bufio.NewReader(input)
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
