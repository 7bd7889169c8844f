package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/tig/internal/bootstrap"
	"github.com/entrepeneur4lyf/tig/internal/config"
	"github.com/entrepeneur4lyf/tig/internal/git"
	"github.com/entrepeneur4lyf/tig/internal/logging"
)

var (
	debug      bool
	workingDir string
	configFile string
)

// Loaded by initialize before any command runs.
var cfg *config.Config

// exitError carries a non-zero exit status without printing anything more.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// resolveProjectDir returns the host repository root containing dir, or dir
// itself outside a repository.
func resolveProjectDir(ctx context.Context, dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	if top, err := git.NewRepository(abs).TopLevel(ctx); err == nil && top != "" {
		return top
	}
	return abs
}

// initialize loads configuration for dir and sets up logging. Logs go to the
// nested repository's log file only when that directory already exists, so
// logging never creates it.
func initialize(ctx context.Context, dir string, quietStderr bool) error {
	projectDir := resolveProjectDir(ctx, dir)

	loaded, err := config.Load(projectDir, configFile, debug)
	if err != nil {
		return err
	}
	cfg = loaded

	logPath := ""
	if _, err := os.Stat(cfg.TigDir()); err == nil {
		logPath = cfg.LogPath()
	}
	if logPath == "" && quietStderr && !debug {
		logging.Discard()
		return nil
	}
	if err := logging.Setup(cfg.Log.Level, logPath, debug); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	log.Debug("Configuration loaded", "project", cfg.WorkingDir, "tig", cfg.TigDir())
	return nil
}

func newManager() *bootstrap.Manager {
	return bootstrap.NewManager(cfg.WorkingDir, cfg.Dir, cfg.RemoteDir)
}

var rootCmd = &cobra.Command{
	Use:   "tig",
	Short: "Conversation-to-commit history for AI-assisted editing",
	Long: `tig records AI editing sessions (prompts, tool uses and responses) and
turns each conversation into commits, snapshots and per-file histories kept in
a nested .tig repository that follows your branches.

Usage:
  tig setup                 # Link the .tig repository into this project
  tig hook <event>          # Called by the editor hooks, payload on stdin
  tig stage [files...]      # Stage AI-modified files and the .tig pointer
  tig log <file>            # Show the conversations that shaped a file
  tig search <query>        # Fuzzy search recorded conversations`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initialize(cmd.Context(), workingDir, false)
	},
}

func init() {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&workingDir, "wd", wd, "Working directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default is .tig.toml in the project)")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	defer logging.Cleanup()

	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		code := 1
		if e, ok := err.(*exitError); ok {
			code = e.code
		}
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		}
		logging.Cleanup()
		os.Exit(code)
	}
}
