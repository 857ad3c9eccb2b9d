package main

import (
	"context"

	"github.com/spf13/cobra"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "ratchet/internal/mcp"
	"ratchet/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operator MCP tools over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing pipeline_status,
get_record, inject_record, promote_record, set_override, and list_stage.

The server watches for parent process death and self-terminates so
disconnected clients do not leave zombies behind.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	mcpserver.WatchParent(ctx, cancel)

	logging.New("mcp").Info("serving ratchet MCP over stdio", "store", cfg.Store.Path)
	srv := mcpserver.NewServer(store, version)
	return srv.Run(ctx, &sdkmcp.StdioTransport{})
}
