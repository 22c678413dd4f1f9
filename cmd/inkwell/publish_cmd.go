package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
	"github.com/inkwell-labs/inkwell/internal/publish"
)

func publishCmd() *cobra.Command {
	var (
		collections []string
		label       string
		token       string
		wait        bool
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "publish [note-id]",
		Short: "Publish a note's draft as an immutable version",
		Long: `Snapshot the note's current draft into an immutable version and make
it searchable. Publish returns before indexing finishes; pass --wait to
block until the version is visible to search.

Retrying with the same --token never creates a duplicate version.

Examples:
  inkwell publish note_ab12 --collections inbox
  inkwell publish note_ab12 --collections inbox,work --label major --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(collections) == 0 {
				return userError("No collections given",
					"Pass --collections with at least one collection name or id.")
			}
			if token == "" {
				token = uuid.NewString()
			}

			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			resp, err := ws.Publish(publish.Request{
				NoteID:      args[0],
				Collections: collections,
				Label:       label,
				ClientToken: token,
			})
			if err != nil {
				return err
			}

			if wait {
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				if _, err := ws.AwaitVisible(ctx, resp.VersionID); err != nil {
					return err
				}
			}

			if jsonOut {
				return printJSON(resp)
			}
			if resp.Reused {
				fmt.Printf("Already published as %s (token replay)\n", resp.VersionID)
				return nil
			}
			fmt.Printf("Published %s%s%s\n", cli.Bold, resp.VersionID, cli.Reset)
			if wait {
				fmt.Println("  searchable now")
			} else {
				fmt.Printf("  %ssearchable in ~%dms — check: inkwell status%s\n",
					cli.Dim, resp.EstimatedSearchableIn, cli.Reset)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&collections, "collections", nil, "Collection names or ids (at least one)")
	cmd.Flags().StringVar(&label, "label", "", "Version label: minor (default) or major")
	cmd.Flags().StringVar(&token, "token", "", "Idempotency token (generated when omitted)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the version is searchable")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
