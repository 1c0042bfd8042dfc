package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/gitingest/internal/output"
	"github.com/Aman-CERP/gitingest/internal/store"
)

func newExportCmd() *cobra.Command {
	var outPath string
	var corpusID string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored entries to a portable JSON artifact",
		Long: `Write stored entries, with their embeddings, to a JSON artifact that
'gitingest import' can load into another store. Without --output the
artifact is written to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			n, err := store.Export(cmd.Context(), a.store, corpusID, w)
			if err != nil {
				return err
			}
			if outPath != "" {
				output.New(cmd.ErrOrStderr()).Successf("Exported %d entries to %s", n, outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Artifact file (default: stdout)")
	cmd.Flags().StringVar(&corpusID, "corpus", "", "Export only this corpus")

	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load entries from an exported JSON artifact",
		Long: `Load every entry of an artifact written by 'gitingest export'. Entries
with ids already in the store replace them. An artifact whose vector
length differs from the store is rejected without changing the store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := store.Import(cmd.Context(), a.store, f)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Imported %d entries", n)
			return nil
		},
	}
	return cmd
}
