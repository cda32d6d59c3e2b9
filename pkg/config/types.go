package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	Memory      MemoryConfig      `toml:"memory"`
	API         APIConfig         `toml:"api"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// StorageConfig selects and configures the persistence backend shared by
// both memory tiers.
type StorageConfig struct {
	// Provider is one of "sqlite", "postgres" or "memory".
	Provider    string `toml:"provider,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`

	// RetryBackoff is the pause before the single retry of a failed
	// storage call, as a Go duration string (e.g. "100ms").
	RetryBackoff string `toml:"retry_backoff,omitempty"`
}

// MemoryConfig holds the tier sizing and consolidation settings.
type MemoryConfig struct {
	MaxConversations   int  `toml:"max_conversations,omitempty"`
	RecentWindow       int  `toml:"recent_window,omitempty"`
	ExampleLimit       int  `toml:"example_limit,omitempty"`
	PruneEvery         int  `toml:"prune_every,omitempty"`
	AsyncConsolidation bool `toml:"async_consolidation"`
	Workers            uint `toml:"workers,omitempty"`
	QueueSize          uint `toml:"queue_size,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventStreamConfig configures where eviction and consolidation events go.
type EventStreamConfig struct {
	// Provider is one of "nop" or "kafka".
	Provider string `toml:"provider,omitempty"`

	// Brokers is a comma separated list of host:port pairs.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// BrokerList splits Brokers into its trimmed, non-empty parts.
func (e EventStreamConfig) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// RetryBackoffDuration parses RetryBackoff. An empty value yields zero.
func (s StorageConfig) RetryBackoffDuration() (time.Duration, error) {
	if s.RetryBackoff == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.RetryBackoff)
	if err != nil {
		return 0, fmt.Errorf("invalid value for storage.retry_backoff: %w", err)
	}
	return d, nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider": {
		get: func(c *Config) string { return c.Storage.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case StorageSQLite, StoragePostgres, StorageMemory:
			default:
				return fmt.Errorf("invalid value for storage.provider: %q (available: sqlite, postgres, memory)", v)
			}
			c.Storage.Provider = v
			return nil
		},
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"storage.retry_backoff": {
		get: func(c *Config) string { return c.Storage.RetryBackoff },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for storage.retry_backoff: %w", err)
			}
			c.Storage.RetryBackoff = v
			return nil
		},
	},
	"memory.max_conversations": intKey("memory.max_conversations",
		func(c *Config) *int { return &c.Memory.MaxConversations }),
	"memory.recent_window": intKey("memory.recent_window",
		func(c *Config) *int { return &c.Memory.RecentWindow }),
	"memory.example_limit": intKey("memory.example_limit",
		func(c *Config) *int { return &c.Memory.ExampleLimit }),
	"memory.prune_every": intKey("memory.prune_every",
		func(c *Config) *int { return &c.Memory.PruneEvery }),
	"memory.async_consolidation": {
		get: func(c *Config) string { return strconv.FormatBool(c.Memory.AsyncConsolidation) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for memory.async_consolidation: %w", err)
			}
			c.Memory.AsyncConsolidation = b
			return nil
		},
	},
	"memory.workers": uintKey("memory.workers",
		func(c *Config) *uint { return &c.Memory.Workers }),
	"memory.queue_size": uintKey("memory.queue_size",
		func(c *Config) *uint { return &c.Memory.QueueSize }),
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"eventstream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case EventStreamNop, EventStreamKafka:
			default:
				return fmt.Errorf("invalid value for eventstream.provider: %q (available: nop, kafka)", v)
			}
			c.EventStream.Provider = v
			return nil
		},
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return c.EventStream.Brokers },
		set: func(c *Config, v string) error { c.EventStream.Brokers = v; return nil },
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			n := *field(c)
			if n == 0 {
				return ""
			}
			return strconv.Itoa(n)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			n := *field(c)
			if n == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(n), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}
