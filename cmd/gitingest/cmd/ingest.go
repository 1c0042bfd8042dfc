package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/gitingest/internal/output"
)

func newIngestCmd() *cobra.Command {
	var corpusID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Chunk, embed and store a directory of text files",
		Long: `Read every text file under <path>, split it into overlapping word
windows and store one embedded entry per window.

Entries are keyed by corpus, file and chunk number, so ingesting the same
directory again replaces its entries instead of duplicating them. The
corpus id defaults to the directory name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if corpusID == "" {
				corpusID = filepath.Base(root)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.ingester.Ingest(cmd.Context(), root, corpusID)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("Ingested %d entries from %d files into %s", res.Entries, res.Files, res.CorpusID)
			out.KeyValue("Duration", res.Duration.Round(time.Millisecond))
			for _, p := range res.Skipped {
				out.Warningf("Skipped %s", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&corpusID, "corpus", "", "Corpus id (default: directory name)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	return cmd
}
