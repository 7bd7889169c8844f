package cmd

import (
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/tig/internal/config"
	"github.com/entrepeneur4lyf/tig/internal/hooks"
)

var (
	hookPayload    *hooks.Payload
	hookPayloadErr error
)

var hookCmd = &cobra.Command{
	Use:   "hook <event>",
	Short: "Handle an editor hook event (payload on stdin)",
	Long: `Handle one editor hook event. The JSON payload is read from stdin and
the project is taken from its cwd field.

Events: SessionStart, UserPromptSubmit, PostToolUse, Stop, SessionEnd
(kebab-case such as session-start is accepted too).

Tracking never interrupts the editor: problems are logged and the command
always exits 0.`,
	Args: cobra.ArbitraryArgs,
	// The payload decides the project, so it is read before configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		hookPayload, hookPayloadErr = hooks.ReadPayload(cmd.InOrStdin())
		if hookPayload == nil {
			hookPayload = &hooks.Payload{}
		}

		dir := workingDir
		if hookPayload.Cwd != "" && !cmd.Flags().Changed("wd") {
			dir = hookPayload.Cwd
		}
		if err := initialize(cmd.Context(), dir, true); err != nil {
			// fall back to defaults
			log.Warn("Failed to load configuration", "err", err)
			if cfg == nil {
				cfg = config.Default(resolveProjectDir(cmd.Context(), dir))
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if hookPayloadErr != nil {
			log.Warn("Invalid hook payload", "err", hookPayloadErr)
		}

		if len(args) != 1 {
			log.Warn("Ignoring hook without a single event name", "args", args)
			return nil
		}
		event, err := hooks.ParseEvent(args[0])
		if err != nil {
			log.Warn("Ignoring hook", "err", err)
			return nil
		}

		res := hooks.NewDispatcher(cfg).Dispatch(cmd.Context(), event, hookPayload)
		switch res.Status {
		case hooks.Failed:
			log.Warn("Hook failed", "event", res.Event, "err", res.Err)
		default:
			log.Debug("Hook handled", "event", res.Event, "status", res.Status, "message", res.Message)
		}

		if res.Output != nil {
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res.Output); err != nil {
				log.Warn("Failed to write hook output", "err", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
