package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/gitingest/internal/pipeline"
	"github.com/Aman-CERP/gitingest/internal/query"
	"github.com/Aman-CERP/gitingest/pkg/version"
)

// maxTopK caps the number of results a client can ask for.
const maxTopK = 100

var (
	ErrNilIngester = errors.New("mcp: nil ingester")
	ErrNilQuery    = errors.New("mcp: nil query service")
)

// Server bridges MCP clients to the ingest pipeline and query service.
type Server struct {
	mcp      *mcp.Server
	ingester *pipeline.Ingester
	query    *query.Service
	root     string
	logger   *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Option configures a Server.
type Option func(*Server)

// WithRoot resolves relative ingest paths against root.
func WithRoot(root string) Option {
	return func(s *Server) { s.root = root }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

var tools = []ToolInfo{
	{
		Name:        "query",
		Description: "Find the ingested text chunks most similar to a question. Returns ids, text, source path and cosine score, best match first.",
	},
	{
		Name:        "ingest",
		Description: "Read a local directory or file, split it into overlapping word windows, embed them and store them under a corpus id. Re-ingesting replaces earlier chunks of the same files.",
	},
	{
		Name:        "corpora",
		Description: "List ingested corpora with entry counts, plus the active embedding model and dimensions.",
	},
}

// NewServer creates an MCP server with every tool registered.
func NewServer(in *pipeline.Ingester, q *query.Service, opts ...Option) (*Server, error) {
	if in == nil {
		return nil, ErrNilIngester
	}
	if q == nil {
		return nil, ErrNilQuery
	}

	s := &Server{ingester: in, query: q, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    version.Name,
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpQueryHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIngestHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpCorporaHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool by name with loosely typed arguments. It runs
// the same code path as the SDK handlers and returns the markdown text a
// client would see.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "query":
		var in QueryInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		res, _, err := s.mcpQueryHandler(ctx, nil, in)
		if err != nil {
			return "", err
		}
		return resultText(res), nil
	case "ingest":
		var in IngestInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		res, _, err := s.mcpIngestHandler(ctx, nil, in)
		if err != nil {
			return "", err
		}
		return resultText(res), nil
	case "corpora":
		_, out, err := s.mcpCorporaHandler(ctx, nil, CorporaInput{})
		if err != nil {
			return "", err
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", MapError(err)
		}
		return string(data), nil
	default:
		return "", NewMethodNotFoundError(name)
	}
}

func (s *Server) mcpQueryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("query parameter is required")
	}
	topK := clampTopK(input.TopK, s.query.DefaultTopK(), maxTopK)

	start := time.Now()
	results, err := s.query.Answer(ctx, input.Query, topK)
	if err != nil {
		s.logger.Warn("mcp_query_failed", slog.String("error", err.Error()))
		return nil, QueryOutput{}, MapError(err)
	}

	out := QueryOutput{Results: make([]QueryHit, len(results))}
	for i, r := range results {
		out.Results[i] = QueryHit{
			ID:       r.Entry.ID,
			Text:     r.Entry.Text,
			Metadata: r.Entry.Metadata,
			Score:    r.Score,
		}
	}
	s.logger.Debug("mcp_query_complete",
		slog.Int("results", len(results)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	res := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatQueryResults(input.Query, results)}},
	}
	return res, out, nil
}

func (s *Server) mcpIngestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult,
	IngestOutput,
	error,
) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, IngestOutput{}, NewInvalidParamsError("path parameter is required")
	}
	if strings.Contains(input.Path, "://") {
		return nil, IngestOutput{}, NewInvalidParamsError("remote repository URLs are not supported; pass a local path")
	}

	root := input.Path
	if !filepath.IsAbs(root) && s.root != "" {
		root = filepath.Join(s.root, root)
	}
	root = filepath.Clean(root)
	corpusID := input.CorpusID
	if corpusID == "" {
		corpusID = filepath.Base(root)
	}

	res, err := s.ingester.Ingest(ctx, root, corpusID)
	if err != nil {
		return nil, IngestOutput{}, MapError(err)
	}

	out := IngestOutput{
		CorpusID: res.CorpusID,
		Count:    res.Entries,
		Files:    res.Files,
		Skipped:  res.Skipped,
	}
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatIngestResult(out)}},
	}
	return result, out, nil
}

func (s *Server) mcpCorporaHandler(ctx context.Context, _ *mcp.CallToolRequest, _ CorporaInput) (
	*mcp.CallToolResult,
	CorporaOutput,
	error,
) {
	st := s.query.Store()
	corpora, err := st.Corpora(ctx)
	if err != nil {
		return nil, CorporaOutput{}, MapError(err)
	}

	out := CorporaOutput{
		Corpora:    make([]CorpusSummary, len(corpora)),
		Entries:    st.Count(),
		Dimensions: st.Dimensions(),
		Model:      s.query.Model(),
	}
	for i, c := range corpora {
		out.Corpora[i] = CorpusSummary{ID: c.ID, Entries: c.Entries, Paths: c.Paths}
	}
	return nil, out, nil
}

// Serve runs the server over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func resultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
