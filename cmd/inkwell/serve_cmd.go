package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/watcher"
	"github.com/inkwell-labs/inkwell/internal/web"
)

func serveCmd() *cobra.Command {
	var (
		addr    string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API",
		Long: `Start the workspace HTTP API. The server binds to localhost only
and rejects requests with a non-local Host header.

The drafts directory watcher runs alongside the server so files saved
under drafts/ keep flowing into note drafts. Disable it with --no-watch.

Examples:
  inkwell serve
  inkwell serve --addr 127.0.0.1:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, log, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !noWatch {
				go func() {
					if err := watcher.New(cfg.DraftsPath(), ws, log).Run(ctx); err != nil && ctx.Err() == nil {
						log.Error("drafts watcher stopped", zap.Error(err))
					}
				}()
			}

			srv := web.NewServer(ws, cfg, Version, log)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(addr) }()
			fmt.Printf("Serving on http://%s\n", addr)

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the drafts directory")
	return cmd
}
