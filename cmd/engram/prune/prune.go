// Package prunecmder provides the prune command that sweeps weakly supported
// patterns out of the registry.
package prunecmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/consolidation"
)

type PruneCommander struct {
	storage bootstrap.StorageTargets
}

const pruneLongDesc string = `Remove patterns with too little support.

A pattern observed fewer than three times whose confidence has not risen
above the initial 60% is removed. Pruning also runs automatically every
memory.prune_every consolidations.

Examples:
  engram prune`

const pruneShortDesc string = "Remove weakly supported patterns"

func NewPruneCmd() *cobra.Command {
	cmder := &PruneCommander{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: pruneShortDesc,
		Long:  pruneLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	bootstrap.AddStorageFlags(cmd, &cmder.storage)

	return cmd
}

func (c *PruneCommander) run(cmd *cobra.Command) error {
	mem, err := bootstrap.Open(cmd)
	if err != nil {
		return err
	}
	defer mem.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)

	var res consolidation.PruneResult
	err = cliui.Step(out, "Pruning patterns", func() error {
		var err error
		res, err = mem.Prune(cmd.Context())
		return err
	})
	if err != nil {
		return err
	}

	if res.Removed == 0 {
		fmt.Fprintf(out, "\n  %s\n\n", cliui.DimStyle.Render("Nothing to prune."))
		return nil
	}

	fmt.Fprintf(out, "\n  Removed %d pattern(s):\n", res.Removed)
	for _, sig := range res.Signatures {
		fmt.Fprintf(out, "    %s %s\n", cliui.FailMark, sig)
	}
	fmt.Fprintln(out)
	return nil
}
