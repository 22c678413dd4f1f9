package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
)

func noteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Create and manage notes",
	}
	cmd.AddCommand(noteCreateCmd())
	cmd.AddCommand(noteListCmd())
	cmd.AddCommand(noteShowCmd())
	cmd.AddCommand(noteDeleteCmd())
	return cmd
}

func noteCreateCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a note with an empty draft",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			note, err := ws.CreateNote(strings.Join(args, " "), tags)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s%s%s  %q\n", cli.Bold, note.ID, cli.Reset, note.Title)
			fmt.Printf("  %sNext: inkwell draft save %s --file <path>%s\n", cli.Dim, note.ID, cli.Reset)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags for the note")
	return cmd
}

func noteListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			notes, err := ws.ListNotes()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(notes)
			}
			if len(notes) == 0 {
				fmt.Println("No notes yet. Create one: inkwell note create \"My note\"")
				return nil
			}
			for _, n := range notes {
				state := "draft only"
				if n.CurrentVersionID != "" {
					state = "published"
				}
				fmt.Printf("%s  %-30s %s%s%s\n", n.ID, truncate(n.Title, 30), cli.Dim, state, cli.Reset)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func noteShowCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show [note-id]",
		Short: "Show a note's metadata and draft state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			note, err := ws.GetNote(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(note)
			}
			fmt.Printf("%s%s%s\n", cli.Bold, note.Title, cli.Reset)
			fmt.Printf("  id:       %s\n", note.ID)
			if len(note.Tags) > 0 {
				fmt.Printf("  tags:     %s\n", strings.Join(note.Tags, ", "))
			}
			fmt.Printf("  created:  %s\n", note.CreatedAt.Format("2006-01-02 15:04"))
			if note.CurrentVersionID != "" {
				fmt.Printf("  head:     %s\n", note.CurrentVersionID)
			} else {
				fmt.Printf("  head:     %snever published%s\n", cli.Dim, cli.Reset)
			}
			if draft, err := ws.GetDraft(note.ID); err == nil {
				fmt.Printf("  draft:    %d chars, saved %s\n",
					len(draft.BodyMD), draft.AutosaveTS.Format("2006-01-02 15:04"))
			} else {
				fmt.Printf("  draft:    %snone%s\n", cli.Dim, cli.Reset)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func noteDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [note-id]",
		Short: "Delete a note, its versions, and its searchable passages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			if err := ws.DeleteNote(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
