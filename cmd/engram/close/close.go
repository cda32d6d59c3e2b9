// Package closecmder provides the close command that ends a conversation.
package closecmder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/memory"
)

type CloseCommander struct {
	outcome string
	storage bootstrap.StorageTargets
}

const closeLongDesc string = `End a conversation and record its outcome.

Without an id the active conversation is closed. The outcome is one of
planned, implemented, tested, abandoned or unknown; when omitted the
outcome already reported for the conversation is kept.

Examples:
  engram close --outcome tested
  engram close 3f1c2a9e-... --outcome abandoned`

const closeShortDesc string = "End a conversation"

func NewCloseCmd() *cobra.Command {
	cmder := &CloseCommander{}

	cmd := &cobra.Command{
		Use:   "close [conversation-id]",
		Short: closeShortDesc,
		Long:  closeLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return cmder.run(cmd, id)
		},
		ValidArgsFunction: func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().StringVarP(&cmder.outcome, "outcome", "o", "", "Outcome of the conversation ("+outcomeList()+")")
	bootstrap.AddStorageFlags(cmd, &cmder.storage)

	return cmd
}

func (c *CloseCommander) run(cmd *cobra.Command, id string) error {
	var outcome memory.Outcome
	if c.outcome != "" {
		var ok bool
		outcome, ok = memory.ParseOutcome(c.outcome)
		if !ok {
			return fmt.Errorf("invalid outcome %q (expected one of %s)", c.outcome, outcomeList())
		}
	}

	mem, err := bootstrap.Open(cmd)
	if err != nil {
		return err
	}
	defer mem.Close()

	if id == "" {
		active, ok := mem.ActiveConversation()
		if !ok {
			return errors.New("no active conversation")
		}
		id = active.ID
	}

	if err := mem.CloseConversation(cmd.Context(), id, outcome); err != nil {
		return err
	}

	closed, _ := mem.Conversation(id)
	fmt.Fprintf(cmd.OutOrStdout(), "\n  %s Closed %s %s\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(id),
		cliui.DimStyle.Render("("+string(closed.Outcome)+")"),
	)
	return nil
}

func outcomeList() string {
	names := make([]string, 0, len(memory.Outcomes()))
	for _, o := range memory.Outcomes() {
		names = append(names, string(o))
	}
	return strings.Join(names, ", ")
}
