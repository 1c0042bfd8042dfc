package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/gitingest/internal/mcp"
	"github.com/Aman-CERP/gitingest/internal/server"
	"github.com/Aman-CERP/gitingest/internal/watcher"
)

type serveOptions struct {
	transport  string
	addr       string
	ingestRoot string
	watchRoot  string
	corpusID   string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve ingest and query over HTTP or MCP",
		Long: `Start a long-running server over the configured store.

  --transport http   JSON API: POST /ingest, POST /query, GET /corpora
  --transport stdio  MCP server with query, ingest and corpora tools

With --watch, the directory is ingested once and then kept in sync: files
that change are re-ingested and removed files are dropped from the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport: http or stdio (default from config)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&opts.ingestRoot, "ingest-root", "", "Confine ingest paths to this directory")
	cmd.Flags().StringVar(&opts.watchRoot, "watch", "", "Ingest this directory and keep it in sync")
	cmd.Flags().StringVar(&opts.corpusID, "corpus", "", "Corpus id for --watch (default: directory name)")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	transport := opts.transport
	if transport == "" {
		transport = a.cfg.Server.Transport
	}
	addr := opts.addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if opts.watchRoot != "" {
		if err := a.startWatch(gctx, g, opts.watchRoot, opts.corpusID); err != nil {
			return err
		}
	}

	switch transport {
	case "http":
		srv, err := server.New(server.Config{
			Addr:        addr,
			Ingester:    a.ingester,
			Query:       a.query,
			IngestRoot:  opts.ingestRoot,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			Logger:      a.logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer cancel()
			return srv.ListenAndServe(gctx)
		})
	case "stdio":
		root := opts.ingestRoot
		if root == "" {
			root = a.dir
		}
		srv, err := mcp.NewServer(a.ingester, a.query, mcp.WithRoot(root), mcp.WithLogger(a.logger))
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer cancel()
			return srv.Serve(gctx)
		})
	default:
		return fmt.Errorf("unknown transport %q (use http or stdio)", transport)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startWatch ingests root once and then keeps the corpus in sync with it in
// the background.
func (a *app) startWatch(ctx context.Context, g *errgroup.Group, root, corpusID string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}
	if corpusID == "" {
		corpusID = filepath.Base(abs)
	}

	res, err := a.ingester.Ingest(ctx, abs, corpusID)
	if err != nil {
		return err
	}
	a.logger.Info("watch_initial_ingest",
		slog.String("corpus_id", corpusID),
		slog.Int("entries", res.Entries),
		slog.Int("files", res.Files))

	w, err := watcher.New(watcher.Options{
		Ignore: a.reader.Excluded,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	syncer := watcher.NewSyncer(a.ingester, abs, corpusID, a.logger)

	g.Go(func() error { return w.Start(ctx, abs) })
	g.Go(func() error { return syncer.Run(ctx, w.Events()) })
	return nil
}
