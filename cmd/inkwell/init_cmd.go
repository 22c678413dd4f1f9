package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/cli"
	"github.com/inkwell-labs/inkwell/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a workspace in the given directory (default: current)",
		Long: `Creates the .inkwell metadata directory with a commented default
config.toml and the drafts directory the watcher mirrors. Safe to run
twice: an existing config is never overwritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if err := config.WriteDefault(abs); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(abs, "drafts"), 0o755); err != nil {
				return err
			}

			fmt.Printf("Workspace ready at %s\n", cli.ShortenHome(abs))
			fmt.Printf("  %sconfig:%s %s\n", cli.Dim, cli.Reset,
				filepath.Join(abs, ".inkwell", "config.toml"))
			fmt.Printf("  %sdrafts:%s %s\n", cli.Dim, cli.Reset,
				filepath.Join(abs, "drafts"))
			return nil
		},
	}
}
