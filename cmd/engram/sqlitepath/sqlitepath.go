// Package sqlitepath locates the SQLite database used by the sqlite storage
// provider.
package sqlitepath

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/engram/pkg/dotdir"
)

const dbFile = "engram.db"

// ResolveSQLitePath returns the database path in order of precedence:
//  1. Provided override
//  2. ENGRAM_DB environment variable
//  3. engram.db inside an explicit config dir
//  4. An existing database in the usual locations
//  5. engram.db in the resolved .engram/ directory, which is created if needed
func ResolveSQLitePath(override, configDir string) (string, error) {
	if override != "" {
		return override, nil
	}

	if envPath := strings.TrimSpace(os.Getenv("ENGRAM_DB")); envPath != "" {
		return envPath, nil
	}

	if configDir != "" {
		dir, err := dotdir.NewManager().Target(configDir)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, dbFile), nil
	}

	for _, candidate := range sqliteCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	dir, err := dotdir.NewManager().Target("")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFile), nil
}

func sqliteCandidates() []string {
	candidates := []string{
		filepath.Join(".engram", dbFile),
		dbFile,
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append(candidates, filepath.Join(xdgHome, "engram", dbFile))
	}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".engram", dbFile))
	}

	return candidates
}
