package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	havenmcp "github.com/valter-silva-au/haven/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the haven MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the haven MCP server on stdio",
	Long: `Start the haven MCP server on stdio transport.

The server exposes the incident engine as MCP tools that AI assistants can
call: handle_event, get_case_file, export_case_file, delete_case_file,
list_sessions, dispatch_action.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Controller == nil {
			return fmt.Errorf("controller not initialized")
		}

		srv := havenmcp.NewServer(Controller, CaseFiles, Registry, Dispatcher, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
