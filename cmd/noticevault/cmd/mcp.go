package cmd

import (
	"github.com/spf13/cobra"
	mcpserver "github.com/wesm/noticevault/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This lets any MCP client search notices, read new-notice counts and manage
favorites with tools like search_notices, get_notice, new_counts,
notice_dates, list_favorites, toggle_favorite and sync_status.

Example client config:
  {
    "mcpServers": {
      "noticevault": {
        "command": "noticevault",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return mcpserver.Serve(cmd.Context(), mcpserver.Deps{
			Notices:   a.notices,
			Store:     a.store,
			Mutations: a.mutations,
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
