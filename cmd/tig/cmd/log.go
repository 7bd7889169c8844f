package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/tig/internal/git"
	"github.com/entrepeneur4lyf/tig/internal/index"
	"github.com/entrepeneur4lyf/tig/internal/shadow"
)

var logJSON bool

var logCmd = &cobra.Command{
	Use:   "log <file>",
	Short: "Show the conversations that changed a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		target := args[0]
		if !filepath.IsAbs(target) {
			target = filepath.Join(workingDir, target)
		}
		rel := index.Relative(cfg.WorkingDir, target)

		history, err := shadow.NewStore(cfg.ShadowDir()).Load(rel)
		if err != nil {
			return err
		}

		if logJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(history)
		}

		if len(history.Entries) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("No recorded conversations for "+rel))
			return nil
		}

		fmt.Fprintln(out, titleStyle.Render(rel))
		nested := git.NewRepository(cfg.TigDir())
		for i := len(history.Entries) - 1; i >= 0; i-- {
			e := history.Entries[i]
			fmt.Fprintf(out, "\n%s %s %s\n",
				warnStyle.Render(e.ID),
				e.ConversationID,
				mutedStyle.Render(e.Timestamp.Local().Format(time.DateTime)))
			printField(out, "Prompt", e.Prompt)
			printField(out, "Response", firstLine(e.Response))
			printField(out, "Snapshots", strings.Join(e.Snapshots, ", "))
			if e.CommitHash != "" {
				printField(out, "Commit", describeCommit(cmd.Context(), nested, e.CommitHash))
			}
			for _, op := range e.ToolOperations {
				fmt.Fprintf(out, "    %s %s\n", op.Tool, mutedStyle.Render(op.Timestamp.Local().Format(time.TimeOnly)))
			}
		}
		return nil
	},
}

// describeCommit shows the nested repository commit's subject when it is
// still reachable, else just the short hash.
func describeCommit(ctx context.Context, repo *git.Repository, hash string) string {
	c, err := repo.GetCommit(ctx, hash)
	if err != nil {
		return shortHash(hash)
	}
	return c.ShortHash + " " + c.Subject
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	logCmd.Flags().BoolVar(&logJSON, "json", false, "Print the raw history document")
	rootCmd.AddCommand(logCmd)
}
