package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirName is the directory under the user's home that holds the ledger.
const DataDirName = ".skillroute"

// DefaultDataDir returns the default ledger location.
// On Unix: ~/.skillroute
// On Windows: %USERPROFILE%\.skillroute
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DataDirName), nil
}

// EnsureDataDir creates dir (mode 0700) if it doesn't exist.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

const dataGitignore = `# SQLite backend files
skillroute.db
skillroute.db-shm
skillroute.db-wal

# Lock file for the JSON backend
.skillroute.lock

# Backups
backups/
`

// EnsureGitignore writes a .gitignore into dir unless one already exists.
func EnsureGitignore(dir string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return nil // respect user edits
	}
	if err := os.WriteFile(gitignorePath, []byte(dataGitignore), 0600); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	return nil
}
