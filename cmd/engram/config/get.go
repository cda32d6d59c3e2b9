package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"
)

const getLongDesc string = `Get one or more configuration values.

Values come from config.toml in the .engram/ directory, with built-in
defaults filling any key the file leaves out.

Examples:
  engram config get storage.provider
  engram config get memory.max_conversations memory.recent_window`

const getShortDesc string = "Get configuration values"

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "get <key> [key...]",
		Short:             getShortDesc,
		Long:              getLongDesc,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeKeys(-1),
		RunE: func(cmd *cobra.Command, keys []string) error {
			if err := checkKeys(keys...); err != nil {
				return err
			}

			cfger, err := openConfiger(cmd)
			if err != nil {
				return err
			}
			values, err := cfger.ConfigValues()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, key := range keys {
				printValue(w, key, values[key])
			}
			fmt.Fprintln(w)
			return nil
		},
	}
}
