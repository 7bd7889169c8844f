package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/tig/internal/bootstrap"
	"github.com/entrepeneur4lyf/tig/internal/watch"
)

var watchIndex bool

var stageCmd = &cobra.Command{
	Use:   "stage [files...]",
	Short: "Stage AI-modified files and the .tig pointer",
	Long: `Stage the given files in the host repository, commit pending context in .tig
and stage the .tig pointer. Without arguments the files are detected from the
snapshots recorded in the history index. Nothing is ever committed in the
host repository.

With --watch, staging runs again every time the history index changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := newManager()
		if !manager.IsConfigured() {
			return &exitError{code: 1, msg: "tig is not configured; run tig setup first"}
		}

		report := stage(cmd.Context(), cmd.OutOrStdout(), manager, args)
		if !watchIndex {
			if !report.Success && !report.Partial {
				return &exitError{code: 1, msg: "staging failed"}
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		watcher, err := watch.NewIndexWatcher(manager.IndexPath(), func(ctx context.Context) {
			stage(ctx, cmd.OutOrStdout(), manager, nil)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Watching "+manager.IndexPath()+" (Ctrl+C to stop)"))
		return watcher.Run(ctx)
	},
}

// stage runs one staging pass. Empty files means auto-detect.
func stage(ctx context.Context, out io.Writer, manager *bootstrap.Manager, files []string) *bootstrap.StageReport {
	if len(files) == 0 {
		detected, err := manager.DetectAIModifiedFiles()
		if err != nil {
			log.Warn("Failed to detect AI-modified files", "err", err)
		}
		files = detected
	}

	report := manager.StageAfterConversation(ctx, files)
	for _, step := range report.Steps {
		printStep(out, step.Name, step.Err)
	}

	summary := fmt.Sprintf("%d staged, %d skipped, %d failed", report.Staged, report.Skipped, report.Failed)
	switch {
	case report.Success:
		fmt.Fprintln(out, successStyle.Render(summary))
	case report.Failed > 0:
		fmt.Fprintln(out, errorStyle.Render(summary))
	default:
		fmt.Fprintln(out, warnStyle.Render(summary))
	}
	for _, f := range report.HostStaged {
		fmt.Fprintf(out, "  %s %s\n", successStyle.Render("+"), f)
	}
	if report.ContextCommitted {
		fmt.Fprintln(out, mutedStyle.Render("Context committed in "+manager.TigDir()))
	}
	return report
}

func init() {
	stageCmd.Flags().BoolVarP(&watchIndex, "watch", "w", false, "Stage again whenever the history index changes")
	rootCmd.AddCommand(stageCmd)
}
