package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/engram/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (ENGRAM_API_LISTEN, ENGRAM_STORAGE_PROVIDER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_MEMORY_MAX_CONVERSATIONS, ENGRAM_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper reads the resolved values out of v into a Config.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Provider:     v.GetString("storage.provider"),
			SQLitePath:   v.GetString("storage.sqlite_path"),
			PostgresDSN:  v.GetString("storage.postgres_dsn"),
			RetryBackoff: v.GetString("storage.retry_backoff"),
		},
		Memory: MemoryConfig{
			MaxConversations:   v.GetInt("memory.max_conversations"),
			RecentWindow:       v.GetInt("memory.recent_window"),
			ExampleLimit:       v.GetInt("memory.example_limit"),
			PruneEvery:         v.GetInt("memory.prune_every"),
			AsyncConsolidation: v.GetBool("memory.async_consolidation"),
			Workers:            v.GetUint("memory.workers"),
			QueueSize:          v.GetUint("memory.queue_size"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		EventStream: EventStreamConfig{
			Provider: v.GetString("eventstream.provider"),
			Brokers:  v.GetString("eventstream.brokers"),
			Topic:    v.GetString("eventstream.topic"),
		},
	}
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.provider", d.Storage.Provider)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.retry_backoff", d.Storage.RetryBackoff)

	// Memory
	v.SetDefault("memory.max_conversations", d.Memory.MaxConversations)
	v.SetDefault("memory.recent_window", d.Memory.RecentWindow)
	v.SetDefault("memory.example_limit", d.Memory.ExampleLimit)
	v.SetDefault("memory.prune_every", d.Memory.PruneEvery)
	v.SetDefault("memory.async_consolidation", d.Memory.AsyncConsolidation)
	v.SetDefault("memory.workers", d.Memory.Workers)
	v.SetDefault("memory.queue_size", d.Memory.QueueSize)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Event stream
	v.SetDefault("eventstream.provider", d.EventStream.Provider)
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
}
