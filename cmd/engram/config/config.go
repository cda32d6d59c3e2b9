// Package configcmder provides the config command for managing persistent
// engram configuration stored in the .engram/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
)

const configLongDesc string = `Manage persistent engram configuration.

Configuration is stored as config.toml in the .engram/ directory and provides
default values for command flags. CLI flags and ENGRAM_* environment
variables take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.provider, storage.sqlite_path, storage.postgres_dsn,
  storage.retry_backoff,
  memory.max_conversations, memory.recent_window, memory.example_limit,
  memory.prune_every, memory.async_consolidation, memory.workers,
  memory.queue_size,
  api.listen,
  eventstream.provider, eventstream.brokers, eventstream.topic

Examples:
  engram config set storage.provider postgres
  engram config set memory.max_conversations 50
  engram config get api.listen memory.max_conversations
  engram config list --changed`

const configShortDesc string = "Manage persistent engram configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// openConfiger resolves the config file for the command's --config-dir and
// prints which file is in use.
func openConfiger(cmd *cobra.Command) (*config.Configer, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	w := cmd.OutOrStdout()
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n", cliui.KeyStyle.Render("Config file:"), cliui.DimStyle.Render(target))
	} else {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}
	return cfger, nil
}

func checkKeys(keys ...string) error {
	for _, key := range keys {
		if !config.IsValidConfigKey(key) {
			return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
				key, strings.Join(config.ValidConfigKeys(), ", "))
		}
	}
	return nil
}

// completeKeys offers config keys for the first maxKeys positional args.
func completeKeys(maxKeys int) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
		if maxKeys < 0 || len(args) < maxKeys {
			return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

func printValue(w io.Writer, key, value string) {
	if value == "" {
		value = cliui.DimStyle.Render("<not set>")
	} else {
		value = cliui.ValueStyle.Render(value)
	}
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render(key), value)
}
