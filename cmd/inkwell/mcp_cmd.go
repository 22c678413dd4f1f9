package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/inkwell-labs/inkwell/internal/mcp"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the AI tool integration server (MCP over stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return mcpserver.NewServer(ws, Version).Serve(ctx)
		},
	}
}
