package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
)

const listLongDesc string = `List configuration values grouped by section.

Keys still at their built-in default are marked. --changed hides them.

Examples:
  engram config list
  engram config list --changed`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	var changedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfger, err := openConfiger(cmd)
			if err != nil {
				return err
			}
			values, err := cfger.ConfigValues()
			if err != nil {
				return err
			}

			keys := config.ValidConfigKeys()
			width := 0
			for _, k := range keys {
				width = max(width, len(k))
			}

			w := cmd.OutOrStdout()
			section := ""
			for _, key := range keys {
				value := values[key]
				def, err := config.DefaultConfigValue(key)
				if err != nil {
					return err
				}
				isDefault := value == def
				if changedOnly && isDefault {
					continue
				}

				if s, _, _ := strings.Cut(key, "."); s != section {
					section = s
					fmt.Fprintf(w, "  %s\n", cliui.HeaderStyle.Render("["+s+"]"))
				}

				shown := fmt.Sprintf("%q", value)
				if value == "" {
					shown = "<not set>"
				}
				line := fmt.Sprintf("    %-*s = %s", width, key, shown)
				if isDefault {
					line += cliui.DimStyle.Render("  (default)")
				}
				fmt.Fprintln(w, line)
			}
			fmt.Fprintln(w)
			return nil
		},
	}

	cmd.Flags().BoolVar(&changedOnly, "changed", false, "Only show keys that differ from the defaults")
	return cmd
}
