package main

import (
	"github.com/spf13/cobra"

	petsyncmcp "github.com/hyperengineering/petsync/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for assistant integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio, exposing sync,
submission listing, reconciliation, apply and stats as tools.

Example client configuration:

  {
    "mcpServers": {
      "petsync": {
        "command": "petsync",
        "args": ["mcp"],
        "env": {
          "PETSYNC_DB_PATH": "/path/to/records.db",
          "PETSYNC_LOG_PATH": "/path/to/petsync.log"
        }
      }
    }
  }

Logs must not go to stdout while serving; set PETSYNC_LOG_PATH or rely on
the default stderr output.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return petsyncmcp.NewServer(s.client).Run()
}
