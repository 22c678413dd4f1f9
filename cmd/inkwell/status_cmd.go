package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
)

func statusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace contents and index health",
		Long: `Shows the current state of the workspace:
  - Notes, drafts, versions, and collections stored
  - Passages in the committed index and its generation
  - Visibility queue depth

Run this anytime to see whether published versions have landed in search.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			st, err := ws.Status()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(st)
			}

			cli.Header("Inkwell Status")

			cli.Section("Workspace")
			fmt.Printf("  Path:        %s\n", cli.ShortenHome(cfg.Workspace.Path))
			fmt.Printf("  Notes:       %s\n", cli.FormatNumber(st.Stats.Notes))
			fmt.Printf("  Drafts:      %s\n", cli.FormatNumber(st.Stats.Drafts))
			fmt.Printf("  Versions:    %s\n", cli.FormatNumber(st.Stats.Versions))
			fmt.Printf("  Collections: %s\n", cli.FormatNumber(st.Stats.Collections))
			if info, err := os.Stat(cfg.DBPath()); err == nil {
				fmt.Printf("  DB:          %.1f MB\n", float64(info.Size())/(1024*1024))
			}

			cli.Section("Index")
			fmt.Printf("  Passages:    %s\n", cli.FormatNumber(st.Passages))
			fmt.Printf("  Generation:  %d\n", st.IndexGeneration)
			if st.QueueDepth == 0 && st.InFlight == 0 {
				fmt.Printf("  Queue:       %sidle%s\n", cli.Green, cli.Reset)
			} else {
				fmt.Printf("  Queue:       %s%d queued, %d in flight%s\n",
					cli.Yellow, st.QueueDepth, st.InFlight, cli.Reset)
			}

			cli.Section("Activity")
			fmt.Printf("  Publications: %s\n", cli.FormatNumber(st.Stats.Publications))
			fmt.Printf("  Events:       %s\n", cli.FormatNumber(st.Stats.Events))

			fmt.Println()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
