package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultDataRoot returns the directory holding the local database and logs.
// Defaults to ~/.petsync, falls back to ./.petsync if home dir unavailable.
func DefaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".petsync")
	}
	return filepath.Join(home, ".petsync")
}

// DefaultDBPath returns the default path of the record database.
func DefaultDBPath() string {
	return filepath.Join(DefaultDataRoot(), "records.db")
}

// DefaultClientRecordsRoot returns the directory under which client folders live.
// Defaults to ~/Documents/PBS_Admin/Client_Records.
func DefaultClientRecordsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(DefaultDataRoot(), "Client_Records")
	}
	return filepath.Join(home, "Documents", "PBS_Admin", "Client_Records")
}

// EnsureDir creates dir and any parents if missing.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// ClientFolderName builds a filesystem-safe folder name for a client.
// Example: ClientFolderName("O'Brien", "Mary Jo", 42) -> "obrien_maryjo_42"
func ClientFolderName(lastName, firstName string, id int64) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{lastName, firstName} {
		clean := strings.ToLower(unsafeNameChars.ReplaceAllString(p, ""))
		if clean != "" {
			parts = append(parts, clean)
		}
	}
	parts = append(parts, strconv.FormatInt(id, 10))
	return strings.Join(parts, "_")
}
