package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/workgarden/internal/editor"
)

var (
	openEditorCmd   string
	openListEditors bool
)

var openCmd = &cobra.Command{
	Use:   "open [branch]",
	Short: "Open a worktree in an editor",
	Long: `Opens the worktree of [branch] in an editor. The editor is the first of:
--editor, editor.command in .workgarden.yaml, $VISUAL, $EDITOR, and the
first known editor found on PATH.`,
	Example: `  wg open feature/login
  wg open feature/login -e "code --new-window"
  wg open --list-editors`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOpen,
}

func init() {
	openCmd.Flags().StringVarP(&openEditorCmd, "editor", "e", "", "Editor command, e.g. \"code --new-window\"")
	openCmd.Flags().BoolVar(&openListEditors, "list-editors", false, "List known editors and whether they are installed")
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p := newPrinter(cmd)
	l := editor.New()

	if openListEditors {
		rows := make([][]string, 0, len(editor.Known))
		for _, e := range l.Detect() {
			installed := "no"
			if e.Available {
				installed = "yes"
			}
			rows = append(rows, []string{e.Name, e.Command, installed})
		}
		p.Table([]string{"EDITOR", "COMMAND", "INSTALLED"}, rows, nil)
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("requires a branch argument (or --list-editors)")
	}

	m, err := newManager(ctx, p)
	if err != nil {
		return err
	}
	rec, err := m.Find(ctx, args[0])
	if err != nil {
		return err
	}
	command := l.Resolve(openEditorCmd, m.Config().Editor.Command)
	if err := l.Open(rec.Path, command); err != nil {
		return err
	}
	p.Success("Opened %s in %s", rec.Path, command)
	return nil
}
