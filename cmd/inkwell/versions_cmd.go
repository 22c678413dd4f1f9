package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
)

func versionsCmd() *cobra.Command {
	var (
		page     int
		pageSize int
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "versions [note-id]",
		Short: "List a note's published versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			versions, total, err := ws.ListVersions(args[0], page, pageSize)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]any{
					"versions":    versions,
					"total_count": total,
				})
			}
			if total == 0 {
				fmt.Println("No versions. Publish the draft first: inkwell publish " + args[0])
				return nil
			}
			for _, v := range versions {
				parent := v.ParentVersionID
				if parent == "" {
					parent = "-"
				}
				fmt.Printf("%s  %-5s  %s  %sparent %s%s\n",
					v.ID, v.Label, v.CreatedAt.Format("2006-01-02 15:04"),
					cli.Dim, parent, cli.Reset)
			}
			if len(versions) < total {
				fmt.Printf("  %s%d of %d — next: --page %d%s\n",
					cli.Dim, len(versions), total, page+1, cli.Reset)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "Zero-based page")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Versions per page")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
