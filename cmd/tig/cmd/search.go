package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/tig/internal/cache"
	"github.com/entrepeneur4lyf/tig/internal/index"
)

var (
	searchLimit   int
	searchFile    string
	searchRebuild bool
	searchVerbose bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Fuzzy search recorded conversations",
	Long: `Search the prompts and responses of processed conversations. Results come
from the query cache in .tig/cache, which is rebuilt from the history index when
missing or when --rebuild is given.

With --file, list the conversations that touched a file instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		indexPath := filepath.Join(cfg.TigDir(), index.FileName)

		if _, err := os.Stat(cfg.DatabasePath()); searchRebuild || err != nil {
			if err := cache.RebuildFromFile(ctx, indexPath, cfg.DatabasePath()); err != nil {
				return fmt.Errorf("failed to build query cache: %w", err)
			}
		}

		store, err := cache.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()

		var convs []cache.Conversation
		if searchFile != "" {
			target := searchFile
			if !filepath.IsAbs(target) {
				target = filepath.Join(workingDir, target)
			}
			convs, err = store.FileConversations(ctx, index.Relative(cfg.WorkingDir, target))
			if err != nil {
				return err
			}
		} else {
			if len(args) == 0 {
				return fmt.Errorf("a query or --file is required")
			}
			matches, err := store.Search(ctx, strings.Join(args, " "), searchLimit)
			if err != nil {
				return err
			}
			for _, m := range matches {
				convs = append(convs, m.Conversation)
			}
		}

		if len(convs) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("No matching conversations"))
			return nil
		}
		for _, c := range convs {
			printConversation(out, c)
			if !searchVerbose {
				continue
			}
			snaps, err := store.Snapshots(ctx, c.ID)
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Fprintf(out, "    %s %s %s\n", s.ID, s.Description, mutedStyle.Render(shortHash(s.Commit)))
			}
		}
		return nil
	},
}

func printConversation(w io.Writer, c cache.Conversation) {
	fmt.Fprintf(w, "\n%s %s %s\n",
		warnStyle.Render(c.ID),
		mutedStyle.Render(c.StartTime.Local().Format(time.DateTime)),
		mutedStyle.Render(c.UserID))
	printField(w, "Prompt", firstLine(c.Prompt))
	printField(w, "Response", firstLine(c.Response))
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results (0 for all)")
	searchCmd.Flags().StringVarP(&searchFile, "file", "f", "", "List conversations that touched this file")
	searchCmd.Flags().BoolVar(&searchRebuild, "rebuild", false, "Rebuild the query cache first")
	searchCmd.Flags().BoolVarP(&searchVerbose, "verbose", "v", false, "Show each conversation's snapshots")
	rootCmd.AddCommand(searchCmd)
}
