// Package dotdir locates the engram state directory.
//
// The directory holds config.toml, the default SQLite database and the
// pending message left behind by an unanswered clarification prompt.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the state directory name, both project-local and in $HOME.
const DirName = ".engram"

// HomeEnv overrides the state directory when no explicit override is given.
const HomeEnv = "ENGRAM_HOME"

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target resolves the state directory, creating it if needed, and returns
// its absolute path. The first match wins:
//  1. overrideDir
//  2. $ENGRAM_HOME
//  3. ./.engram, if it already exists
//  4. ~/.engram
func (m *Manager) Target(overrideDir string) (string, error) {
	dir, err := m.resolve(overrideDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating engram directory %s: %w", dir, err)
	}
	return filepath.Abs(dir)
}

// Path returns the absolute path of name inside the resolved directory.
func (m *Manager) Path(overrideDir, name string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (m *Manager) resolve(overrideDir string) (string, error) {
	if overrideDir != "" {
		return overrideDir, nil
	}
	if env := os.Getenv(HomeEnv); env != "" {
		return env, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	if local := filepath.Join(cwd, DirName); isDir(local) {
		return local, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
