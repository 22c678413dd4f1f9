package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
	"github.com/inkwell-labs/inkwell/internal/watcher"
)

func watchCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror markdown files in the drafts directory into note drafts",
		Long: `Watch the drafts directory and save every markdown file as the
matching note's draft. Files carrying a note_id in their frontmatter
update that note; files without one get a note created on first save.

Watched saves are drafts only — nothing becomes searchable until you
publish.

Example:
  inkwell watch
  inkwell watch --dir ~/notes/scratch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, log, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			if dir == "" {
				dir = cfg.DraftsPath()
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Watching %s\n", cli.ShortenHome(dir))
			fmt.Printf("  %sCtrl-C to stop%s\n", cli.Dim, cli.Reset)

			err = watcher.New(dir, ws, log).Run(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to watch (default: the workspace drafts directory)")
	return cmd
}
