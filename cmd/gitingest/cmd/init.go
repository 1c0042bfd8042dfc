package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/gitingest/internal/config"
	"github.com/Aman-CERP/gitingest/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool
	var provider string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a .gitingest.yaml with the default settings",
		Long: `Write .gitingest.yaml into the project directory (--dir) with every
setting at its default, ready to edit.`,
		Example: `  # Initialize in the current directory
  gitingest init

  # Use Ollama embeddings instead of the built-in static embedder
  gitingest init --provider ollama

  # Overwrite an existing file
  gitingest init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(projectDir, config.ProjectConfigYAML)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.NewConfig()
			cfg.Embeddings.Provider = provider
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.WriteYAML(path); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&provider, "provider", "static", "Embeddings provider: static or ollama")

	return cmd
}
