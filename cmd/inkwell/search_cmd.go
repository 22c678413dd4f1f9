package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
	"github.com/inkwell-labs/inkwell/internal/query"
)

func searchCmd() *cobra.Command {
	var (
		collections []string
		page        int
		pageSize    int
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search published notes",
		Long: `Search published versions only; drafts never appear in results.
When the evidence supports it, an extractive answer with anchored
citations is printed above the result list.

Examples:
  inkwell search "offline sync strategy"
  inkwell search --collections work "retro notes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			resp, err := ws.Search(query.Request{
				Text:        strings.Join(args, " "),
				Collections: collections,
				Page:        page,
				PageSize:    pageSize,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(resp)
			}
			printSearchResponse(resp)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&collections, "collections", nil, "Scope to collection names or ids")
	cmd.Flags().IntVar(&page, "page", 0, "Zero-based result page")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Results per page (max 50)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printSearchResponse(resp query.Response) {
	if resp.Answer != nil {
		fmt.Printf("\n%s%s%s\n", cli.Bold, resp.Answer.Text, cli.Reset)
		for i, c := range resp.Answer.Citations {
			fmt.Printf("  %s[%d]%s %s %s\n", cli.Dim, i+1, cli.Reset,
				c.VersionID, c.Anchor.StructurePath)
		}
	} else if resp.NoAnswerReason != "" {
		fmt.Printf("\n  %sNo answer (%s).%s\n", cli.Dim, resp.NoAnswerReason, cli.Reset)
	}

	if len(resp.Results) == 0 {
		fmt.Println("\n  No results found.")
		fmt.Printf("  %sOnly published versions are searchable — publish drafts first.%s\n\n",
			cli.Dim, cli.Reset)
		return
	}

	for i, r := range resp.Results {
		fmt.Printf("\n%d. %s%s%s  %s(%.2f)%s\n",
			resp.Page*resp.PageSize+i+1, cli.Cyan, r.StructurePath, cli.Reset,
			cli.Dim, r.Score, cli.Reset)
		fmt.Printf("   %s  %s\n", r.NoteID, r.VersionID)
		snippet := strings.ReplaceAll(r.Snippet, "\n", " ")
		if len(snippet) > 150 {
			snippet = snippet[:150] + "..."
		}
		fmt.Printf("   %s\n", snippet)
	}
	fmt.Println()

	if resp.HasMore {
		fmt.Printf("  %sShowing %d of %d — next: --page %d%s\n",
			cli.Dim, len(resp.Results), resp.TotalCount, resp.Page+1, cli.Reset)
	}
}
