// Package versioncmder prints the build metadata of the engram binary.
package versioncmder

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/utils"
)

type VersionCommander struct {
	short bool
	json  bool
}

func NewVersionCmd() *cobra.Command {
	cmder := &VersionCommander{}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "displays version",
		Long:  "displays the version, commit and build time of this CLI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.short, "short", false, "Print only the version")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Print build metadata as JSON")
	cmd.MarkFlagsMutuallyExclusive("short", "json")

	return cmd
}

func (c *VersionCommander) run(cmd *cobra.Command) error {
	info := utils.Build()
	w := cmd.OutOrStdout()

	switch {
	case c.short:
		fmt.Fprintln(w, info.Version)
	case c.json:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	default:
		fmt.Fprintf(w, "Version: %s\nSha: %s\nBuilt at: %s\nGo: %s (%s)\n",
			info.Version, info.Sha, info.Buildtime, info.GoVersion, info.Platform)
	}
	return nil
}
