package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/gitingest/internal/output"
)

func newEmbedCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "embed <file>",
		Short: "Embed a whole file and print its vector as JSON",
		Long: `Embed the full text of one file with the configured embedding model
and write the result as a JSON array holding a single vector. Bytes that
are not valid UTF-8 are dropped. Nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			vecs, err := a.embedder.EmbedBatch(cmd.Context(), []string{strings.ToValidUTF8(string(data), "")})
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			if err := json.NewEncoder(w).Encode(vecs); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
			if outPath != "" {
				output.New(cmd.ErrOrStderr()).Successf("Wrote %d-dimension vector to %s", len(vecs[0]), outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default: stdout)")

	return cmd
}
