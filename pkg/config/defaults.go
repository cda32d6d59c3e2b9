package config

import "time"

// Storage providers.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Event stream providers.
const (
	EventStreamNop   = "nop"
	EventStreamKafka = "kafka"
)

const (
	defaultStorageProvider = StorageSQLite
	defaultRetryBackoff    = 100 * time.Millisecond

	defaultMaxConversations = 20
	defaultRecentWindow     = 5
	defaultExampleLimit     = 10
	defaultPruneEvery       = 50
	defaultWorkers          = 1
	defaultQueueSize        = 256

	defaultAPIListen = ":8082"

	defaultEventStreamProvider = EventStreamNop
	defaultEventStreamTopic    = "engram.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider:     defaultStorageProvider,
			RetryBackoff: defaultRetryBackoff.String(),
		},
		Memory: MemoryConfig{
			MaxConversations:   defaultMaxConversations,
			RecentWindow:       defaultRecentWindow,
			ExampleLimit:       defaultExampleLimit,
			PruneEvery:         defaultPruneEvery,
			AsyncConsolidation: true,
			Workers:            defaultWorkers,
			QueueSize:          defaultQueueSize,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
	}
}
