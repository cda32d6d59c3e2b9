// Package servecmder provides the serve command that runs the engram API
// server.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/api"
	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/metrics"
)

type ServeCommander struct {
	listen             string
	storageProvider    string
	sqlitePath         string
	postgresDSN        string
	maxConversations   int
	recentWindow       int
	exampleLimit       int
	pruneEvery         int
	asyncConsolidation bool
	workers            uint
	eventStreamProv    string
	eventStreamBrokers string
	eventStreamTopic   string

	logFile    string
	disableMCP bool
	debug      bool
	configDir  string

	logger *slog.Logger
}

const serveLongDesc string = `Run the engram API server.

The server exposes the memory over HTTP under /v1, serves Prometheus
metrics on /metrics and mounts an MCP endpoint on /mcp so agents can
record messages, query patterns and validate mutations as tools.

Configuration is read from config.toml in the .engram/ directory.
Flags take precedence over environment variables (ENGRAM_*), which take
precedence over the config file.

Examples:
  engram serve
  engram serve --listen :9000 --storage-provider postgres --postgres-dsn postgres://...
  engram serve --eventstream-provider kafka --eventstream-brokers localhost:9092`

const serveShortDesc string = "Run the engram API server"

var serveFlags = []string{
	config.FlagListen,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			keys := append([]string{}, serveFlags...)
			keys = append(keys, bootstrap.StorageFlags...)
			keys = append(keys, bootstrap.MemoryFlags...)
			keys = append(keys, bootstrap.EventStreamFlags...)
			cfg, err := bootstrap.LoadConfig(cmd, keys...)
			if err != nil {
				return err
			}

			return cmder.run(cmd.Context(), cfg)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageProvider, &cmder.storageProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddIntFlag(cmd, config.Flags, config.FlagMaxConversations, &cmder.maxConversations)
	config.AddIntFlag(cmd, config.Flags, config.FlagRecentWindow, &cmder.recentWindow)
	config.AddIntFlag(cmd, config.Flags, config.FlagExampleLimit, &cmder.exampleLimit)
	config.AddIntFlag(cmd, config.Flags, config.FlagPruneEvery, &cmder.pruneEvery)
	config.AddBoolFlag(cmd, config.Flags, config.FlagAsyncConsolidation, &cmder.asyncConsolidation)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &cmder.workers)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventStreamProv, &cmder.eventStreamProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventStreamBrokers, &cmder.eventStreamBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventStreamTopic, &cmder.eventStreamTopic)

	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")
	cmd.Flags().BoolVar(&cmder.disableMCP, "disable-mcp", false, "Do not mount the MCP endpoint")

	return cmd
}

func (c *ServeCommander) run(ctx context.Context, cfg *config.Config) error {
	closeLog, err := c.setupLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	m := metrics.New()

	mem, err := bootstrap.OpenMemory(ctx, cfg, bootstrap.Options{
		ConfigDir: c.configDir,
		Metrics:   m,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := mem.Close(); err != nil {
			c.logger.Error("closing memory", "error", err)
		}
	}()

	apiServer, err := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
		Metrics:    m,
		DisableMCP: c.disableMCP,
	}, mem, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	c.logger.Info("starting engram",
		"api_addr", cfg.API.Listen,
		"storage", cfg.Storage.Provider,
		"max_conversations", cfg.Memory.MaxConversations,
		"async_consolidation", cfg.Memory.AsyncConsolidation,
		"mcp", !c.disableMCP,
	)

	// Channel to capture errors from the server goroutine
	errChan := make(chan error, 1)

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return apiServer.Shutdown()
	}
}

// setupLogger builds the pretty stdout logger and, when --log-file is set,
// tees every record as JSON into that file.
func (c *ServeCommander) setupLogger() (func(), error) {
	stdout := logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithPrefix("engram"))
	if c.logFile == "" {
		c.logger = stdout
		return func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	file := logger.New(logger.WithDebug(c.debug), logger.WithJSON(true), logger.WithPrefix("engram"), logger.WithWriter(f))
	c.logger = logger.Multi(stdout, file)
	return func() { _ = f.Close() }, nil
}
