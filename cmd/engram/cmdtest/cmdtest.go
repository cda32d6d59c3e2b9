// Package cmdtest runs engram subcommands under a minimal root command in
// tests.
package cmdtest

import (
	"bytes"
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/logger"
)

// Run executes sub under a root carrying the global --debug and --config-dir
// flags and returns everything written to stdout and stderr.
func Run(configDir string, sub *cobra.Command, args ...string) (string, error) {
	root := &cobra.Command{
		Use:           "engram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolP("debug", "d", false, "")
	root.PersistentFlags().String("config-dir", configDir, "")
	root.AddCommand(sub)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{sub.Name()}, args...))

	err := root.Execute()
	return out.String(), err
}

// Seed opens the SQLite memory the commands resolve for configDir, using the
// config.toml found there, hands it to fn and closes it again.
func Seed(configDir string, fn func(ctx context.Context, mem *engram.Memory) error) error {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return err
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Storage.SQLitePath = filepath.Join(configDir, "engram.db")

	ctx := context.Background()
	mem, err := bootstrap.OpenMemory(ctx, cfg, bootstrap.Options{
		ConfigDir: configDir,
		Inline:    true,
		Logger:    logger.Nop(),
	})
	if err != nil {
		return err
	}

	if err := fn(ctx, mem); err != nil {
		_ = mem.Close()
		return err
	}
	return mem.Close()
}
