package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/config"
)

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	writeConfig := func(data string) {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("loads all config fields", func() {
			writeConfig(`version = 0

[storage]
provider = "postgres"
sqlite_path = "/tmp/engram.db"
postgres_dsn = "postgres://localhost/engram"
retry_backoff = "250ms"

[memory]
max_conversations = 30
recent_window = 3
example_limit = 4
prune_every = 10
async_consolidation = false
workers = 2
queue_size = 64

[api]
listen = ":9092"

[eventstream]
provider = "kafka"
brokers = "k1:9092,k2:9092"
topic = "memory"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage).To(Equal(config.StorageConfig{
				Provider:     "postgres",
				SQLitePath:   "/tmp/engram.db",
				PostgresDSN:  "postgres://localhost/engram",
				RetryBackoff: "250ms",
			}))
			Expect(cfg.Memory).To(Equal(config.MemoryConfig{
				MaxConversations:   30,
				RecentWindow:       3,
				ExampleLimit:       4,
				PruneEvery:         10,
				AsyncConsolidation: false,
				Workers:            2,
				QueueSize:          64,
			}))
			Expect(cfg.API.Listen).To(Equal(":9092"))
			Expect(cfg.EventStream.Provider).To(Equal("kafka"))
			Expect(cfg.EventStream.BrokerList()).To(Equal([]string{"k1:9092", "k2:9092"}))
			Expect(cfg.EventStream.Topic).To(Equal("memory"))
		})

		It("fills in defaults for unset fields in a partial config", func() {
			writeConfig(`[memory]
max_conversations = 5
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())

			defaults := config.NewDefaultConfig()
			Expect(cfg.Memory.MaxConversations).To(Equal(5))
			Expect(cfg.Memory.RecentWindow).To(Equal(defaults.Memory.RecentWindow))
			Expect(cfg.Memory.AsyncConsolidation).To(BeTrue())
			Expect(cfg.Storage.Provider).To(Equal(defaults.Storage.Provider))
			Expect(cfg.API.Listen).To(Equal(defaults.API.Listen))
			Expect(cfg.EventStream.Topic).To(Equal(defaults.EventStream.Topic))
		})

		It("returns error for malformed TOML", func() {
			writeConfig("this is not [valid toml")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing config TOML"))
		})

		It("returns error for unsupported config version", func() {
			writeConfig("version = 7\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version 7")))
		})
	})

	Describe("SaveConfig", func() {
		It("persists config to disk and reloads it", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			cfg.Memory.MaxConversations = 7
			cfg.Memory.AsyncConsolidation = false
			cfg.EventStream.Provider = config.EventStreamKafka
			Expect(c.SaveConfig(cfg)).To(Succeed())

			_, err = os.Stat(c.GetTarget())
			Expect(err).NotTo(HaveOccurred())

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(cfg))
		})

		It("returns error for nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(nil)).To(MatchError("cannot save nil config"))
		})
	})

	Describe("SetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("sets a string config key", func() {
			Expect(c.SetConfigValue("api.listen", ":9999")).To(Succeed())

			val, err := c.GetConfigValue("api.listen")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal(":9999"))
		})

		It("sets int, uint and bool keys", func() {
			Expect(c.SetConfigValue("memory.max_conversations", "40")).To(Succeed())
			Expect(c.SetConfigValue("memory.workers", "3")).To(Succeed())
			Expect(c.SetConfigValue("memory.async_consolidation", "false")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Memory.MaxConversations).To(Equal(40))
			Expect(cfg.Memory.Workers).To(Equal(uint(3)))
			Expect(cfg.Memory.AsyncConsolidation).To(BeFalse())
		})

		It("preserves existing values when setting a new key", func() {
			Expect(c.SetConfigValue("storage.sqlite_path", "/data/engram.db")).To(Succeed())
			Expect(c.SetConfigValue("eventstream.topic", "mem")).To(Succeed())

			val, err := c.GetConfigValue("storage.sqlite_path")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("/data/engram.db"))
		})

		DescribeTable("rejects invalid values",
			func(key, value string) {
				Expect(c.SetConfigValue(key, value)).To(MatchError(ContainSubstring("invalid value for " + key)))
			},
			Entry("non-numeric int", "memory.max_conversations", "many"),
			Entry("negative uint", "memory.queue_size", "-1"),
			Entry("bad bool", "memory.async_consolidation", "maybe"),
			Entry("bad duration", "storage.retry_backoff", "soon"),
			Entry("unknown storage provider", "storage.provider", "redis"),
			Entry("unknown eventstream provider", "eventstream.provider", "nats"),
		)

		It("returns error for unknown key", func() {
			Expect(c.SetConfigValue("proxy.upstream", "x")).To(MatchError(ContainSubstring("unknown config key")))
		})
	})

	Describe("GetConfigValue", func() {
		It("returns default values when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			val, err := c.GetConfigValue("memory.max_conversations")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("20"))

			val, err = c.GetConfigValue("storage.provider")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("sqlite"))
		})

		It("returns empty string for key with no default", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			val, err := c.GetConfigValue("storage.postgres_dsn")
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(BeEmpty())
		})

		It("returns error for unknown key", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.GetConfigValue("nonexistent.key")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("ValidConfigKeys", func() {
	It("returns every key in section order", func() {
		keys := config.ValidConfigKeys()
		Expect(keys).To(HaveLen(15))
		Expect(keys[0]).To(Equal("storage.provider"))
		Expect(keys[len(keys)-1]).To(Equal("eventstream.topic"))
		for _, k := range keys {
			Expect(config.IsValidConfigKey(k)).To(BeTrue(), k)
		}
	})

	It("rejects keys of other layouts", func() {
		Expect(config.IsValidConfigKey("proxy.listen")).To(BeFalse())
		Expect(config.IsValidConfigKey("max_conversations")).To(BeFalse())
	})
})

var _ = Describe("PresetConfig", func() {
	It("returns a sqlite preset", func() {
		cfg, err := config.PresetConfig("sqlite")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Provider).To(Equal(config.StorageSQLite))
		Expect(cfg.Memory.AsyncConsolidation).To(BeTrue())
	})

	It("returns a postgres preset with a local DSN", func() {
		cfg, err := config.PresetConfig("Postgres")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Provider).To(Equal(config.StoragePostgres))
		Expect(cfg.Storage.PostgresDSN).To(HavePrefix("postgres://"))
	})

	It("consolidates inline for the memory preset", func() {
		cfg, err := config.PresetConfig("memory")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Provider).To(Equal(config.StorageMemory))
		Expect(cfg.Memory.AsyncConsolidation).To(BeFalse())
	})

	It("returns error for unknown preset", func() {
		_, err := config.PresetConfig("redis")
		Expect(err).To(MatchError(ContainSubstring("unknown preset")))
		Expect(config.ValidPresetNames()).To(ConsistOf("sqlite", "postgres", "memory"))
	})
})

var _ = Describe("ParseConfigTOML", func() {
	It("keeps the async default for empty input", func() {
		cfg, err := config.ParseConfigTOML([]byte(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Memory.AsyncConsolidation).To(BeTrue())
		Expect(cfg.Memory.MaxConversations).To(BeZero())
	})

	It("honours an explicit false", func() {
		cfg, err := config.ParseConfigTOML([]byte("[memory]\nasync_consolidation = false\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Memory.AsyncConsolidation).To(BeFalse())
	})
})

var _ = Describe("StorageConfig", func() {
	It("parses the retry backoff", func() {
		d, err := config.NewDefaultConfig().Storage.RetryBackoffDuration()
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(100 * time.Millisecond))

		d, err = config.StorageConfig{}.RetryBackoffDuration()
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeZero())

		_, err = config.StorageConfig{RetryBackoff: "x"}.RetryBackoffDuration()
		Expect(err).To(HaveOccurred())
	})

	It("ignores blank brokers", func() {
		e := config.EventStreamConfig{Brokers: " a:1, ,b:2 "}
		Expect(e.BrokerList()).To(Equal([]string{"a:1", "b:2"}))
		Expect(config.EventStreamConfig{}.BrokerList()).To(BeEmpty())
	})
})

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("returns viper with defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(config.FromViper(v)).To(Equal(config.NewDefaultConfig()))
	})

	It("reads config file values over defaults", func() {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("[memory]\nmax_conversations = 9\n"), 0o600)
		Expect(err).NotTo(HaveOccurred())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg := config.FromViper(v)
		Expect(cfg.Memory.MaxConversations).To(Equal(9))
		Expect(cfg.Memory.RecentWindow).To(Equal(5))
	})

	It("env vars take precedence over config file values", func() {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("[storage]\nprovider = \"postgres\"\n"), 0o600)
		Expect(err).NotTo(HaveOccurred())
		GinkgoT().Setenv("ENGRAM_STORAGE_PROVIDER", "memory")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.GetString("storage.provider")).To(Equal("memory"))
	})
})

var _ = Describe("Flag registry", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("binds a set flag over the config file", func() {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("[api]\nlisten = \":5555\"\n"), 0o600)
		Expect(err).NotTo(HaveOccurred())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagListen, &listen)
		Expect(cmd.Flags().Set("listen", ":7777")).To(Succeed())

		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagListen})
		Expect(v.GetString("api.listen")).To(Equal(":7777"))
	})

	It("falls through to config when flag not set", func() {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("[api]\nlisten = \":5555\"\n"), 0o600)
		Expect(err).NotTo(HaveOccurred())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagListen, &listen)

		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagListen, "nonexistent"})
		Expect(v.GetString("api.listen")).To(Equal(":5555"))
	})

	It("pulls defaults from NewDefaultConfig for every flag type", func() {
		cmd := &cobra.Command{Use: "test"}
		var (
			provider string
			sqlite   string
			maxConv  int
			workers  uint
			async    bool
		)
		config.AddStringFlag(cmd, config.Flags, config.FlagStorageProvider, &provider)
		config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &sqlite)
		config.AddIntFlag(cmd, config.Flags, config.FlagMaxConversations, &maxConv)
		config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &workers)
		config.AddBoolFlag(cmd, config.Flags, config.FlagAsyncConsolidation, &async)

		Expect(cmd.Flags().Lookup("storage-provider").DefValue).To(Equal("sqlite"))
		Expect(cmd.Flags().Lookup("max-conversations").DefValue).To(Equal("20"))
		Expect(cmd.Flags().Lookup("workers").DefValue).To(Equal("1"))
		Expect(cmd.Flags().Lookup("async-consolidation").DefValue).To(Equal("true"))
		Expect(cmd.Flags().Lookup("sqlite")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("sqlite").Shorthand).To(Equal("s"))
	})

	It("ignores unknown registry keys", func() {
		cmd := &cobra.Command{Use: "test"}
		var s string
		config.AddStringFlag(cmd, config.Flags, "nonexistent", &s)
		Expect(cmd.Flags().HasFlags()).To(BeFalse())
	})
})

var _ = Describe("Defaults for partial files", func() {
	It("fills every key the file leaves out and keeps explicit false", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[memory]
max_conversations = 3
async_consolidation = false
`), 0o600)).To(Succeed())

		c, err := config.NewConfiger(dir)
		Expect(err).NotTo(HaveOccurred())
		values, err := c.ConfigValues()
		Expect(err).NotTo(HaveOccurred())

		Expect(values).To(HaveKeyWithValue("memory.max_conversations", "3"))
		Expect(values).To(HaveKeyWithValue("memory.async_consolidation", "false"))
		Expect(values).To(HaveKeyWithValue("memory.recent_window", "5"))
		Expect(values).To(HaveKeyWithValue("api.listen", ":8082"))
		Expect(values).To(HaveKeyWithValue("storage.sqlite_path", ""))
		Expect(values).To(HaveLen(len(config.ValidConfigKeys())))
	})

	It("reports built-in defaults per key", func() {
		Expect(config.DefaultConfigValue("memory.max_conversations")).To(Equal("20"))
		Expect(config.DefaultConfigValue("eventstream.provider")).To(Equal("nop"))
		_, err := config.DefaultConfigValue("nope")
		Expect(err).To(HaveOccurred())
	})
})
