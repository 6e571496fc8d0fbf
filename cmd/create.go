package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zhubert/workgarden/internal/editor"
	"github.com/zhubert/workgarden/internal/ui"
	"github.com/zhubert/workgarden/internal/worktree"
)

var (
	createBase      string
	createNoEnv     bool
	createNoPorts   bool
	createNoHooks   bool
	createDryRun    bool
	createForceEnv  bool
	createOpen      bool
	createNoOpen    bool
	createEditorCmd string
)

var createCmd = &cobra.Command{
	Use:   "create <branch>",
	Short: "Create a worktree with its own ports, env files and compose overlay",
	Long: `Creates a git worktree for <branch> (creating the branch from --base when it
does not exist), allocates a free host port for every port declared in the
configured compose files, writes a compose overlay with those ports, copies
the configured env files with {{VAR}} substitution and runs the post_create
and post_setup hooks.

If any step fails, every completed step is undone.`,
	Example: `  wg create feature/login
  wg create fix-123 --base release/2.0
  wg create spike --no-hooks --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createBase, "base", "b", "", "Base branch or commit for a new branch (default HEAD)")
	createCmd.Flags().BoolVar(&createNoEnv, "no-env", false, "Skip copying env files")
	createCmd.Flags().BoolVar(&createNoPorts, "no-ports", false, "Skip port allocation and overlay generation")
	createCmd.Flags().BoolVar(&createNoHooks, "no-hooks", false, "Skip lifecycle hooks")
	createCmd.Flags().BoolVar(&createDryRun, "dry-run", false, "Show the plan without changing anything")
	createCmd.Flags().BoolVar(&createForceEnv, "force-env", false, "Overwrite env files that already exist in the worktree")
	createCmd.Flags().BoolVarP(&createOpen, "open", "o", false, "Open the worktree in an editor afterwards")
	createCmd.Flags().BoolVar(&createNoOpen, "no-open", false, "Do not open the worktree even if editor.auto_open is set")
	createCmd.Flags().StringVarP(&createEditorCmd, "editor", "e", "", "Editor command used with --open")
	createCmd.MarkFlagsMutuallyExclusive("open", "no-open")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := newPrinter(cmd)
	m, err := newManager(ctx, p)
	if err != nil {
		return err
	}

	res, err := m.Create(ctx, worktree.CreateOptions{
		Branch:    args[0],
		Base:      createBase,
		SkipEnv:   createNoEnv,
		SkipPorts: createNoPorts,
		SkipHooks: createNoHooks,
		DryRun:    createDryRun,
		ForceEnv:  createForceEnv,
	})
	if res != nil {
		p.HookOutput(res.Hooks)
	}
	if err != nil {
		return err
	}

	if createDryRun {
		p.Info("Dry run: %d operation(s) planned, nothing changed.", len(res.Report.Records))
		return nil
	}

	p.Success("Created worktree %s", res.Record.ID)
	p.WorktreeRecord(res.Record)
	for _, w := range res.Warnings() {
		p.Warning("%s", w)
	}

	if createOpen || (m.Config().AutoOpen() && !createNoOpen) {
		openAfterCreate(p, m.Config().Editor.Command, res.Record.Path)
	}
	return nil
}

// openAfterCreate launches the editor. The worktree is already committed,
// so a launch failure is only a warning.
func openAfterCreate(p *ui.Printer, configured, path string) {
	l := editor.New()
	command := l.Resolve(createEditorCmd, configured)
	if err := l.Open(path, command); err != nil {
		p.Warning("could not open editor: %v", err)
		return
	}
	p.Info("Opened %s in %s", path, command)
}
