package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
)

func collectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"collections"},
		Short:   "Manage collections (search scopes for published versions)",
	}
	cmd.AddCommand(collectionCreateCmd())
	cmd.AddCommand(collectionListCmd())
	return cmd
}

func collectionCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			col, err := ws.CreateCollection(args[0], description)
			if err != nil {
				return err
			}
			fmt.Printf("Created collection %s%s%s (%s)\n", cli.Bold, col.Name, cli.Reset, col.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "What this collection holds")
	return cmd
}

func collectionListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			cols, err := ws.ListCollections()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cols)
			}
			if len(cols) == 0 {
				fmt.Println("No collections. Create one: inkwell collection create inbox")
				return nil
			}
			for _, c := range cols {
				desc := ""
				if c.Description != "" {
					desc = fmt.Sprintf("  %s%s%s", cli.Dim, c.Description, cli.Reset)
				}
				fmt.Printf("%s  %-20s%s\n", c.ID, c.Name, desc)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
