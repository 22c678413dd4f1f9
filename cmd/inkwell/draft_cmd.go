package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
)

func draftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Save and inspect note drafts",
		Long: `Drafts are private working copies. Saving a draft never changes
search results; only publishing does.`,
	}
	cmd.AddCommand(draftSaveCmd())
	cmd.AddCommand(draftShowCmd())
	return cmd
}

func draftSaveCmd() *cobra.Command {
	var (
		file string
		tags []string
	)
	cmd := &cobra.Command{
		Use:   "save [note-id]",
		Short: "Save a note's draft from a file or stdin",
		Long: `Overwrite the note's draft body. Last write wins.

Examples:
  inkwell draft save note_ab12 --file notes/plan.md
  cat plan.md | inkwell draft save note_ab12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error
			if file != "" {
				body, err = os.ReadFile(file)
			} else {
				body, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return fmt.Errorf("read draft body: %w", err)
			}
			if len(body) == 0 {
				return userError("Empty draft body",
					"Pass --file <path> or pipe markdown on stdin.")
			}

			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			d, err := ws.SaveDraft(args[0], string(body), tags)
			if err != nil {
				return err
			}
			fmt.Printf("Draft saved for %s (%d chars)\n", d.NoteID, len(d.BodyMD))
			fmt.Printf("  %sNot searchable until published: inkwell publish %s --collections <name>%s\n",
				cli.Dim, d.NoteID, cli.Reset)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Read the draft body from this file")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags to store with the draft")
	return cmd
}

func draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [note-id]",
		Short: "Print a note's current draft body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			d, err := ws.GetDraft(args[0])
			if err != nil {
				return err
			}
			fmt.Print(d.BodyMD)
			if len(d.BodyMD) > 0 && d.BodyMD[len(d.BodyMD)-1] != '\n' {
				fmt.Println()
			}
			return nil
		},
	}
}
