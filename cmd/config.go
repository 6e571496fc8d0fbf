package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/workgarden/internal/config"
	wgerrors "github.com/zhubert/workgarden/internal/errors"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and validate .workgarden.yaml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented .workgarden.yaml to the repository root",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with defaults applied",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check .workgarden.yaml for problems",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	root, err := repoRoot(cmd.Context())
	if err != nil {
		return err
	}
	path, err := config.WriteTemplate(root, configInitForce)
	if err != nil {
		return wgerrors.E(wgerrors.Op("cmd.configInit"), wgerrors.KindConfig, err)
	}
	newPrinter(cmd).Success("Wrote %s", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	root, err := repoRoot(cmd.Context())
	if err != nil {
		return err
	}
	cfg, err := config.LoadAndMerge(root)
	if err != nil {
		return err
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return wgerrors.E(wgerrors.Op("cmd.configShow"), wgerrors.KindConfig, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	root, err := repoRoot(cmd.Context())
	if err != nil {
		return err
	}
	partial, err := config.Load(root)
	if err != nil {
		return err
	}
	if partial == nil {
		return wgerrors.ConfigNotFound(config.Path(root))
	}
	cfg, err := config.Merge(partial, config.DefaultConfig())
	if err != nil {
		return wgerrors.ConfigLoadFailed(config.Path(root), err)
	}

	p := newPrinter(cmd)
	problems := config.Validate(cfg)
	if len(problems) == 0 {
		p.Success("%s is valid", config.Path(root))
		return nil
	}
	for _, v := range problems {
		p.Warning("%s", v.Error())
	}
	return wgerrors.E(wgerrors.Op("cmd.configValidate"), wgerrors.KindConfig,
		fmt.Sprintf("%d problem(s) in %s", len(problems), config.Path(root)))
}
