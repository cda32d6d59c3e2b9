// Package recentcmder provides the recent command that lists the most
// recently started conversations.
package recentcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/utils"
)

type RecentCommander struct {
	n       int
	storage bootstrap.StorageTargets
}

const recentLongDesc string = `List the most recently started conversations, oldest first.

Examples:
  engram recent
  engram recent -n 10`

const recentShortDesc string = "List recent conversations"

const titleWidth = 48

func NewRecentCmd() *cobra.Command {
	cmder := &RecentCommander{}

	cmd := &cobra.Command{
		Use:   "recent",
		Short: recentShortDesc,
		Long:  recentLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmder.n <= 0 {
				return fmt.Errorf("-n must be positive, got %d", cmder.n)
			}
			return cmder.run(cmd)
		},
	}

	cmd.Flags().IntVarP(&cmder.n, "n", "n", 5, "Number of conversations to list")
	bootstrap.AddStorageFlags(cmd, &cmder.storage)

	return cmd
}

func (c *RecentCommander) run(cmd *cobra.Command) error {
	mem, err := bootstrap.Open(cmd)
	if err != nil {
		return err
	}
	defer mem.Close()

	printConversations(cmd.OutOrStdout(), mem.RecentConversations(c.n))
	return nil
}

func printConversations(w io.Writer, convs []memory.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No conversations yet."))
		return
	}

	fmt.Fprintln(w)
	for _, conv := range convs {
		state := string(conv.Outcome)
		switch {
		case conv.Active:
			state = cliui.SuccessMark + " active"
		case state == "":
			state = "closed"
		}

		fmt.Fprintf(w, "  %s  %-*s  %s\n",
			cliui.KeyStyle.Render(conv.ID),
			titleWidth, utils.Truncate(conv.Title, titleWidth),
			cliui.DimStyle.Render(fmt.Sprintf("%s · %d msgs · %s",
				conv.StartedAt.Local().Format("Jan 02 15:04"),
				len(conv.Messages),
				state,
			)),
		)
		if len(conv.Entities) > 0 {
			fmt.Fprintf(w, "      %s\n", cliui.DimStyle.Render(strings.Join(conv.Entities, ", ")))
		}
	}
	fmt.Fprintln(w)
}
