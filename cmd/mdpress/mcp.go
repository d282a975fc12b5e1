package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/mdpress/internal/api"
	"github.com/kalambet/mdpress/internal/config"
	"github.com/kalambet/mdpress/internal/templates"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long: `Serve the MCP tools (upload_markdown, get_document, list_templates) over
stdio, reading and writing the same document store as the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// stdout carries the protocol, so logs go to stderr only.
		logger := newLogger(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStores(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer st.Close()

		set, err := templates.Load(logger)
		if err != nil {
			return err
		}

		publicURL := cfg.Server.PublicURL
		if publicURL == "" {
			publicURL = serverURL(cfg.Server)
		}
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Documents:   st.documents,
			Templates:   set,
			PublicURL:   publicURL,
			DocumentTTL: cfg.Storage.DocumentTTL,
		}, version)

		logger.Info("MCP server started (stdio transport)")
		if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio server: %w", err)
		}
		return nil
	},
}
