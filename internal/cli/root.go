package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "haven",
	Short: "Haven - personal safety incident engine",
	Long: `Haven is the incident state engine behind a personal-safety assistant.
It classifies the urgency of a conversation, keeps an authoritative case
file per session, and gates real-world side effects (contact alerts,
responder briefings, safe-place lookups) behind idempotency and consent.

Front ends (voice webhooks, chat clients, MCP assistants) all drive the
same engine through the same event entrypoint.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("haven %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
