package mcp

import "github.com/Aman-CERP/gitingest/internal/entry"

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Query string `json:"query" jsonschema:"the natural-language question to match against ingested text"`
	TopK  *int   `json:"top_k,omitempty" jsonschema:"maximum number of results, default 5"`
}

// QueryOutput defines the output schema for the query tool.
type QueryOutput struct {
	Results []QueryHit `json:"results" jsonschema:"matching chunks, most similar first"`
}

// QueryHit is a single ranked chunk.
type QueryHit struct {
	ID       string         `json:"id" jsonschema:"entry id in the form corpus::path::chunkN"`
	Text     string         `json:"text" jsonschema:"chunk text"`
	Metadata entry.Metadata `json:"metadata"`
	Score    float64        `json:"score" jsonschema:"cosine similarity between -1 and 1"`
}

// IngestInput defines the input schema for the ingest tool.
type IngestInput struct {
	Path     string `json:"path" jsonschema:"local directory or file to ingest"`
	CorpusID string `json:"corpus_id,omitempty" jsonschema:"corpus id, defaults to the base name of path"`
}

// IngestOutput defines the output schema for the ingest tool.
type IngestOutput struct {
	CorpusID string   `json:"corpus_id"`
	Count    int      `json:"count" jsonschema:"number of entries written"`
	Files    int      `json:"files"`
	Skipped  []string `json:"skipped,omitempty" jsonschema:"files that could not be read"`
}

// CorporaInput defines the input schema for the corpora tool (no parameters).
type CorporaInput struct{}

// CorporaOutput defines the output schema for the corpora tool.
type CorporaOutput struct {
	Corpora    []CorpusSummary `json:"corpora"`
	Entries    int             `json:"entries"`
	Dimensions int             `json:"dimensions"`
	Model      string          `json:"model"`
}

// CorpusSummary describes one ingested corpus.
type CorpusSummary struct {
	ID      string `json:"id"`
	Entries int    `json:"entries"`
	Paths   int    `json:"paths"`
}
