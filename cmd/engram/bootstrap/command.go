package bootstrap

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/logger"
)

// StorageTargets receives the storage flag values of a one-shot command.
// The values are read back through viper by Open.
type StorageTargets struct {
	Provider    string
	SQLitePath  string
	PostgresDSN string
}

// AddStorageFlags registers the storage flags on cmd.
func AddStorageFlags(cmd *cobra.Command, t *StorageTargets) {
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageProvider, &t.Provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &t.SQLitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &t.PostgresDSN)
}

// CommandLogger returns a pretty logger on the command's stderr. Only
// warnings and errors are shown unless --debug is set.
func CommandLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	return logger.New(
		logger.WithLevel(level),
		logger.WithPretty(true),
		logger.WithPrefix(cmd.Name()),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
}

// Open resolves the configuration for a one-shot command and opens the
// memory with inline consolidation.
func Open(cmd *cobra.Command) (*engram.Memory, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	keys := append([]string{}, StorageFlags...)
	keys = append(keys, MemoryFlags...)
	keys = append(keys, EventStreamFlags...)
	cfg, err := LoadConfig(cmd, keys...)
	if err != nil {
		return nil, err
	}

	return OpenMemory(cmd.Context(), cfg, Options{
		ConfigDir: configDir,
		Inline:    true,
		Logger:    CommandLogger(cmd),
	})
}
