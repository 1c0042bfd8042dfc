package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.gitingest/logs, or a temp directory when the home
// directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".gitingest", "logs")
	}
	return filepath.Join(home, ".gitingest", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}
