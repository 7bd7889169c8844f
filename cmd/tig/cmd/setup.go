package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Link the .tig context repository into this project",
	Long: `Create the local bare repository .tig-remote.git, add it to this project as
the .tig submodule and configure it to follow the current branch.

Setup never touches an existing .tig: if it is already linked nothing is done,
and an unlinked .tig directory must be removed by hand first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		report := newManager().Setup(cmd.Context())

		for _, step := range report.Steps {
			printStep(out, step.Name, step.Err)
		}
		if !report.Success {
			return &exitError{code: 1, msg: report.Message}
		}

		fmt.Fprintln(out, successStyle.Render(report.Message))
		if len(report.Steps) > 0 {
			fmt.Fprintln(out, mutedStyle.Render("Commit .gitmodules and .tig to share the history with your team."))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
