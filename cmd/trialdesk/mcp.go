package main

import (
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/trialdesk/internal/dashboard"
	"github.com/alexjbarnes/trialdesk/internal/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func newDashboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show totals and recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}

			summary, err := dashboard.Build(cmd.Context(), api)
			if err != nil {
				return err
			}

			return a.print(cmd, summary)
		},
	}
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the trial tools over MCP on stdio",
		Long: `Run an MCP server on stdin/stdout exposing dashboard, seed, plot,
trial and incident tools. Log in with "trialdesk login" first; the server
uses and refreshes the stored session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}

			server := mcp.NewServer(
				&mcp.Implementation{Name: "trialdesk", Version: Version},
				nil,
			)
			mcpserver.RegisterTools(server, api)

			a.logger.Info("mcp server starting", slog.String("version", Version), slog.String("api_url", a.cfg.APIURL))

			if err := server.Run(cmd.Context(), &mcp.StdioTransport{}); err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}

			return nil
		},
	}
}
