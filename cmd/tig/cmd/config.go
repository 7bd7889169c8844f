package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/tig/internal/config"
)

var forceConfig bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tig configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .tig.toml in the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(cfg.WorkingDir, config.FileName)
		if err := config.WriteFile(path, config.Default(cfg.WorkingDir), forceConfig); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Wrote "+path))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.Encode(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceConfig, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
