// Package logging configures structured slog output for gitingest.
// Logs are JSON lines written to ~/.gitingest/logs/server.log with size based
// rotation, and optionally mirrored to stderr when --debug is set.
package logging
