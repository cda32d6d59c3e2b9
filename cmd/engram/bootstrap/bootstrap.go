// Package bootstrap resolves configuration and opens the storage driver,
// event publisher and memory facade shared by the engram commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/sqlitepath"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/kafka"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/metrics"
	"github.com/papercomputeco/engram/pkg/retry"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
	"github.com/papercomputeco/engram/pkg/storage/postgres"
	"github.com/papercomputeco/engram/pkg/storage/sqlite"
)

// StorageFlags are the registry keys every command that opens the memory
// binds.
var StorageFlags = []string{
	config.FlagStorageProvider,
	config.FlagSQLite,
	config.FlagPostgresDSN,
}

// MemoryFlags are the registry keys for tier sizing and consolidation.
var MemoryFlags = []string{
	config.FlagMaxConversations,
	config.FlagRecentWindow,
	config.FlagExampleLimit,
	config.FlagPruneEvery,
	config.FlagAsyncConsolidation,
	config.FlagWorkers,
}

// EventStreamFlags are the registry keys for the event publisher.
var EventStreamFlags = []string{
	config.FlagEventStreamProv,
	config.FlagEventStreamBrokers,
	config.FlagEventStreamTopic,
}

// LoadConfig resolves the configuration for cmd with precedence
// flag > env > config.toml > default. Only the flags named by keys are bound.
func LoadConfig(cmd *cobra.Command, keys ...string) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, keys)

	return config.FromViper(v), nil
}

// OpenDriver opens the storage driver selected by cfg.Storage.Provider.
func OpenDriver(ctx context.Context, cfg *config.Config, configDir string, logger *slog.Logger) (storage.Driver, error) {
	switch cfg.Storage.Provider {
	case config.StorageMemory:
		logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	case config.StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, errors.New("storage.postgres_dsn is required for the postgres provider")
		}
		driver, err := postgres.NewDriver(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL driver: %w", err)
		}
		logger.Info("using PostgreSQL storage")
		return driver, nil

	case config.StorageSQLite, "":
		dbPath, err := sqlitepath.ResolveSQLitePath(cfg.Storage.SQLitePath, configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving sqlite path: %w", err)
		}
		driver, err := sqlite.NewDriver(ctx, dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite driver: %w", err)
		}
		logger.Info("using SQLite storage", "path", dbPath)
		return driver, nil

	default:
		return nil, fmt.Errorf("unknown storage provider: %q", cfg.Storage.Provider)
	}
}

// OpenPublisher opens the event publisher selected by
// cfg.EventStream.Provider.
func OpenPublisher(cfg *config.Config, logger *slog.Logger) (eventstream.Publisher, error) {
	switch cfg.EventStream.Provider {
	case config.EventStreamNop, "":
		return nop.NewPublisher(), nil

	case config.EventStreamKafka:
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.EventStream.BrokerList(),
			Topic:   cfg.EventStream.Topic,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		logger.Info("publishing events to kafka",
			"brokers", cfg.EventStream.Brokers,
			"topic", cfg.EventStream.Topic,
		)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown event stream provider: %q", cfg.EventStream.Provider)
	}
}

// Options adjust OpenMemory for the calling command.
type Options struct {
	// ConfigDir overrides .engram/ resolution.
	ConfigDir string

	// Inline forces consolidation before RecordMessage returns. One-shot CLI
	// commands set it so no work is lost when the process exits.
	Inline bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// OpenMemory wires a facade from cfg. Closing the facade releases its
// publisher and driver; resources opened before a failure are released
// before returning.
func OpenMemory(ctx context.Context, cfg *config.Config, opts Options) (*engram.Memory, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	backoff, err := cfg.Storage.RetryBackoffDuration()
	if err != nil {
		return nil, err
	}
	retryCfg := retry.DefaultConfig()
	if backoff > 0 {
		retryCfg.BaseDelay = backoff
	}

	driver, err := OpenDriver(ctx, cfg, opts.ConfigDir, opts.Logger)
	if err != nil {
		return nil, err
	}

	publisher, err := OpenPublisher(cfg, opts.Logger)
	if err != nil {
		_ = driver.Close()
		return nil, err
	}

	mem, err := engram.New(ctx, engram.Config{
		Driver:             driver,
		MaxConversations:   cfg.Memory.MaxConversations,
		RecentWindow:       cfg.Memory.RecentWindow,
		ExampleLimit:       cfg.Memory.ExampleLimit,
		PruneEvery:         cfg.Memory.PruneEvery,
		AsyncConsolidation: cfg.Memory.AsyncConsolidation && !opts.Inline,
		Workers:            cfg.Memory.Workers,
		QueueSize:          cfg.Memory.QueueSize,
		Retry:              retryCfg,
		Publisher:          publisher,
		Metrics:            opts.Metrics,
		Logger:             opts.Logger,
	})
	if err != nil {
		_ = publisher.Close()
		_ = driver.Close()
		return nil, fmt.Errorf("opening memory: %w", err)
	}

	return mem, nil
}
