// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	closecmder "github.com/papercomputeco/engram/cmd/engram/close"
	configcmder "github.com/papercomputeco/engram/cmd/engram/config"
	initcmder "github.com/papercomputeco/engram/cmd/engram/init"
	patternscmder "github.com/papercomputeco/engram/cmd/engram/patterns"
	prunecmder "github.com/papercomputeco/engram/cmd/engram/prune"
	recentcmder "github.com/papercomputeco/engram/cmd/engram/recent"
	recordcmder "github.com/papercomputeco/engram/cmd/engram/record"
	servecmder "github.com/papercomputeco/engram/cmd/engram/serve"
	showcmder "github.com/papercomputeco/engram/cmd/engram/show"
	validatecmder "github.com/papercomputeco/engram/cmd/engram/validate"
	versioncmder "github.com/papercomputeco/engram/cmd/version"
)

const engramLongDesc string = `Engram is tiered conversational memory for your agents.

Recent conversations are kept whole in Tier-1. When one is evicted its
regularities are consolidated into confidence-scored patterns in Tier-2.
Every mutation is checked against an immutable rule set.

Run the server:
  engram serve             Run the API, metrics and MCP endpoints

Work with the memory directly:
  engram record <text>     Record a message
  engram close [id]        End a conversation
  engram recent            List recent conversations
  engram show [id]         Show a conversation transcript
  engram patterns [query]  Search learned patterns
  engram prune             Remove weakly supported patterns
  engram validate          Pre-flight a mutation against the rules`

const engramShortDesc string = "Engram - Agent Memory"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "engram",
		Short:         engramShortDesc,
		Long:          engramLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .engram/ directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(recordcmder.NewRecordCmd())
	cmd.AddCommand(closecmder.NewCloseCmd())
	cmd.AddCommand(recentcmder.NewRecentCmd())
	cmd.AddCommand(showcmder.NewShowCmd())
	cmd.AddCommand(patternscmder.NewPatternsCmd())
	cmd.AddCommand(prunecmder.NewPruneCmd())
	cmd.AddCommand(validatecmder.NewValidateCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
