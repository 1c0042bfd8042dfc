package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/gitingest/internal/output"
	"github.com/Aman-CERP/gitingest/internal/store"
)

// StatsOutput is the JSON output of the stats command.
type StatsOutput struct {
	Backend    string             `json:"backend"`
	Index      string             `json:"index"`
	Model      string             `json:"model"`
	Dimensions int                `json:"dimensions"`
	Entries    int                `json:"entries"`
	Corpora    []store.CorpusInfo `json:"corpora"`
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show what the store holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			corpora, err := a.store.Corpora(cmd.Context())
			if err != nil {
				return err
			}
			stats := StatsOutput{
				Backend:    a.cfg.Store.Backend,
				Index:      a.cfg.Store.Index,
				Model:      a.query.Model(),
				Dimensions: a.store.Dimensions(),
				Entries:    a.store.Count(),
				Corpora:    corpora,
			}
			if stats.Corpora == nil {
				stats.Corpora = []store.CorpusInfo{}
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			out := output.New(cmd.OutOrStdout())
			out.Header("Store")
			out.KeyValue("Backend", stats.Backend)
			out.KeyValue("Index", stats.Index)
			out.KeyValue("Model", stats.Model)
			out.KeyValue("Dimensions", stats.Dimensions)
			out.KeyValue("Entries", stats.Entries)
			if len(corpora) == 0 {
				out.Newline()
				out.Warning("No corpora ingested yet")
				return nil
			}
			out.Newline()
			out.Header("Corpora")
			for _, c := range corpora {
				out.KeyValue(c.ID, fmt.Sprintf("%d entries, %d files", c.Entries, c.Paths))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <corpus>",
		Short: "Remove every entry of a corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.store.DeleteCorpus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if n == 0 {
				out.Warningf("Corpus %s not found", args[0])
				return nil
			}
			out.Successf("Deleted %d entries from %s", n, args[0])
			return nil
		},
	}
	return cmd
}
