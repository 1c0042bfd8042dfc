package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/gitingest/internal/entry"
	"github.com/Aman-CERP/gitingest/internal/output"
)

// QueryHit is the JSON form of one query result.
type QueryHit struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata entry.Metadata `json:"metadata"`
	Score    float64        `json:"score"`
}

func newQueryCmd() *cobra.Command {
	var topK int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Return the stored passages most similar to the text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			text := strings.Join(args, " ")
			if !cmd.Flags().Changed("top-k") {
				topK = a.query.DefaultTopK()
			}
			results, err := a.query.Answer(cmd.Context(), text, topK)
			if err != nil {
				return err
			}

			if jsonOutput {
				hits := make([]QueryHit, 0, len(results))
				for _, r := range results {
					hits = append(hits, QueryHit{ID: r.Entry.ID, Text: r.Entry.Text, Metadata: r.Entry.Metadata, Score: r.Score})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string][]QueryHit{"results": hits})
			}

			out := output.New(cmd.OutOrStdout())
			if len(results) == 0 {
				out.Warningf("No results for %q", text)
				return nil
			}
			for i, r := range results {
				out.Hit(i+1, r.Entry.ID, r.Score, r.Entry.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}
