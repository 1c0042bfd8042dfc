// Package cmd provides the CLI commands for gitingest.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/gitingest/internal/config"
	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
	"github.com/Aman-CERP/gitingest/internal/logging"
	"github.com/Aman-CERP/gitingest/internal/profiling"
	"github.com/Aman-CERP/gitingest/pkg/version"
)

// Global flags
var (
	debugMode  bool
	configPath string
	projectDir string

	loggingCleanup func()
)

// Profiling flags
var (
	profileOpts profiling.Options
	profiler    *profiling.Session
)

// NewRootCmd creates the root command for the gitingest CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gitingest",
		Short: "Ingest text corpora and answer similarity queries",
		Long: `gitingest splits a directory of text files into overlapping word
windows, embeds each window, and stores the vectors so that free-text
queries return the most similar passages.

It can be driven from the command line, over HTTP, or as an MCP server.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("gitingest version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.gitingest/logs/")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Load configuration from this YAML file only")
	cmd.PersistentFlags().StringVar(&projectDir, "dir", ".", "Project directory holding .gitingest.yaml and the store")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startLoggingAndProfiling
	cmd.PersistentPostRunE = stopLoggingAndProfiling

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLoggingAndProfiling installs the process logger and starts any
// requested profiles. Without --debug only warnings reach the log file,
// unless GITINGEST_LOG_LEVEL asks for more.
func startLoggingAndProfiling(cmd *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	} else if lvl := os.Getenv("GITINGEST_LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version))

	if profileOpts.Enabled() {
		profiler, err = profiling.Start(profileOpts)
		if err != nil {
			return err
		}
	}
	return nil
}

func stopLoggingAndProfiling(_ *cobra.Command, _ []string) error {
	var err error
	if profiler != nil {
		err = profiler.Stop()
		profiler = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// loadConfig reads --config when given, otherwise the layered configuration
// for --dir.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load(projectDir)
}

// Execute runs the root command and reports a failure on stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, ragerrors.FormatForCLI(err))
		_ = stopLoggingAndProfiling(nil, nil)
	}
	return err
}
