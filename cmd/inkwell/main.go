// Package main is the entrypoint for the inkwell CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/logging"
	"github.com/inkwell-labs/inkwell/internal/workspace"

	"go.uber.org/zap"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "inkwell",
		Short: "Local-first knowledge repository",
		Long:  "inkwell — draft privately, publish immutable versions, and search only what you published.",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.AddCommand(initCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(noteCmd())
	root.AddCommand(draftCmd())
	root.AddCommand(publishCmd())
	root.AddCommand(rollbackCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(versionsCmd())
	root.AddCommand(collectionCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(watchCmd())

	// Global --workspace flag
	root.PersistentFlags().StringVar(&config.WorkspaceOverride, "workspace", "",
		"Workspace directory (overrides INKWELL_WORKSPACE and cwd)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the inkwell version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("inkwell %s\n", Version)
			return nil
		},
	}
}

// openWorkspace loads config and opens the workspace under the
// single-process lock.
func openWorkspace() (*workspace.Workspace, *config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	ws, err := workspace.Open(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return ws, cfg, log, nil
}
