package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
)

func rollbackCmd() *cobra.Command {
	var (
		token   string
		wait    bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "rollback [note-id] [target-version-id]",
		Short: "Restore a prior version's content as a new version",
		Long: `Publish a new version whose content equals the target version's.
History is never rewritten: the target stays immutable and the new
version records it as its parent.

Example:
  inkwell rollback note_ab12 ver_9f3c --wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = uuid.NewString()
			}

			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			resp, err := ws.Rollback(args[0], args[1], token)
			if err != nil {
				return err
			}

			if wait {
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				if _, err := ws.AwaitVisible(ctx, resp.NewVersionID); err != nil {
					return err
				}
			}

			if jsonOut {
				return printJSON(resp)
			}
			fmt.Printf("Rolled back to %s\n", resp.TargetVersionID)
			fmt.Printf("  new head: %s%s%s\n", cli.Bold, resp.NewVersionID, cli.Reset)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Idempotency token (generated when omitted)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the restored version is searchable")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
