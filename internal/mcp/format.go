package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/gitingest/internal/store"
)

// FormatQueryResults renders query hits as markdown.
func FormatQueryResults(query string, results []store.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, num int, r store.Result) {
	meta := r.Entry.Metadata
	fmt.Fprintf(sb, "### %d. %s chunk %d (score: %.2f)\n",
		num, meta.Path, meta.ChunkIndex, r.Score)
	fmt.Fprintf(sb, "**Corpus:** `%s`\n\n", meta.CorpusID)
	fmt.Fprintf(sb, "```text\n%s\n```\n\n", r.Entry.Text)
}

// FormatIngestResult summarizes an ingest run.
func FormatIngestResult(out IngestOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ingested %d entries from %d files into `%s`.", out.Count, out.Files, out.CorpusID)
	if len(out.Skipped) > 0 {
		fmt.Fprintf(&sb, "\n\nSkipped %d unreadable file", len(out.Skipped))
		if len(out.Skipped) != 1 {
			sb.WriteString("s")
		}
		sb.WriteString(":\n")
		for _, p := range out.Skipped {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	return sb.String()
}

// clampTopK caps topK at max. A nil topK means the default.
func clampTopK(topK *int, defaultVal, max int) int {
	n := defaultVal
	if topK != nil {
		n = *topK
	}
	return min(n, max)
}
