package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/git"
	"github.com/zhubert/workgarden/internal/logger"
	"github.com/zhubert/workgarden/internal/txn"
	"github.com/zhubert/workgarden/internal/ui"
	"github.com/zhubert/workgarden/internal/worktree"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitDegraded   = 3
)

var (
	debugMode             bool
	quietMode             bool
	repoDir               string
	logFile               string
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "wg",
	Short: "Provision isolated development environments on git worktrees",
	Long: `wg creates a git worktree per branch and wires it up as a complete
development environment: free host ports for every compose service, a
compose overlay carrying them, substituted .env files and lifecycle hooks.

Every create and remove runs as one transaction. When a step fails, the
steps that already ran are undone in reverse order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", true, "Enable debug logging (on by default)")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Reduce logging to info level and hide progress lines")
	rootCmd.PersistentFlags().StringVarP(&repoDir, "dir", "C", "", "Run as if wg was started in this directory")
	rootCmd.PersistentFlags().StringVar(&logFile, "log", "", "Log file, or - for stderr (default $TMPDIR/workgarden-debug.log)")
}

func initConfig() {
	if quietMode {
		logger.SetDebug(false)
	} else if debugMode {
		logger.SetDebug(true)
	}
	if logFile != "" {
		if err := logger.Init(logFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}

// Execute runs the root command, prints any error and returns it.
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	defer logger.Close()

	ctx, stop := withSignals(context.Background())
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(ui.NewPrinter(rootCmd.OutOrStdout(), rootCmd.ErrOrStderr()), err)
	}
	return err
}

// withSignals returns a context cancelled by the first SIGINT or SIGTERM.
// A cancelled create or remove stops its running step and rolls back. A
// second signal exits at once.
func withSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	log := logger.ComponentLogger("cmd")

	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, cancelling", "signal", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			log.Warn("received second signal, force exiting", "signal", sig)
			os.Exit(ExitFailure)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("wg %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("wg %s\n", version)
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var txErr *txn.Error
	if errors.As(err, &txErr) {
		if txErr.Degraded() {
			return ExitDegraded
		}
		return ExitFailure
	}
	if wgerrors.Is(err, wgerrors.KindValidation) {
		return ExitValidation
	}
	return ExitFailure
}

// reportError prints err and, for failed transactions, the per-operation
// outcome.
func reportError(p *ui.Printer, err error) {
	var txErr *txn.Error
	if errors.As(err, &txErr) {
		p.Report(txErr.Report)
	}
	p.Error(err)
}

func newPrinter(cmd *cobra.Command) *ui.Printer {
	return ui.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), ui.WithQuiet(quietMode))
}

// repoRoot resolves the main repository root from --dir or the working
// directory. Inside a linked worktree it still returns the main checkout.
func repoRoot(ctx context.Context) (string, error) {
	dir := repoDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", wgerrors.E(wgerrors.Op("cmd.repoRoot"), wgerrors.KindIO, err)
		}
		dir = wd
	}
	return git.NewService().MainRepoRoot(ctx, dir)
}

// newManager builds a worktree manager for the current repository that
// reports transaction progress through p.
func newManager(ctx context.Context, p *ui.Printer) (*worktree.Manager, error) {
	root, err := repoRoot(ctx)
	if err != nil {
		return nil, err
	}
	return worktree.NewManager(root, worktree.WithEvents(p.Event))
}

// stdinIsTerminal is replaced in tests.
var stdinIsTerminal = func(r io.Reader) bool { return ui.IsTerminal(r) }
