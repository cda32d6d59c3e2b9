// Package showcmder provides the show command that prints a conversation
// transcript.
package showcmder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/storage"
)

type ShowCommander struct {
	raw     bool
	storage bootstrap.StorageTargets
}

const showLongDesc string = `Show the transcript of a retained conversation.

The transcript is rendered as markdown. Use --raw to print the markdown
source instead. Without an id the active conversation is shown.

Examples:
  engram show
  engram show 3f1c2a9e-...
  engram show 3f1c2a9e-... --raw > transcript.md`

const showShortDesc string = "Show a conversation transcript"

func NewShowCmd() *cobra.Command {
	cmder := &ShowCommander{}

	cmd := &cobra.Command{
		Use:   "show [conversation-id]",
		Short: showShortDesc,
		Long:  showLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return cmder.run(cmd, id)
		},
	}

	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print markdown without rendering")
	bootstrap.AddStorageFlags(cmd, &cmder.storage)

	return cmd
}

func (c *ShowCommander) run(cmd *cobra.Command, id string) error {
	mem, err := bootstrap.Open(cmd)
	if err != nil {
		return err
	}
	defer mem.Close()

	var (
		conv memory.Conversation
		ok   bool
	)
	if id == "" {
		conv, ok = mem.ActiveConversation()
		if !ok {
			return errors.New("no active conversation")
		}
	} else {
		conv, ok = mem.Conversation(id)
		if !ok {
			return storage.NotFoundError{ID: id}
		}
	}

	doc := transcript(&conv)
	if c.raw {
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	}

	rendered, err := cliui.RenderMarkdown(doc)
	if err != nil {
		bootstrap.CommandLogger(cmd).Warn("rendering markdown", "error", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

func transcript(conv *memory.Conversation) string {
	var b strings.Builder

	title := conv.Title
	if title == "" {
		title = "Untitled conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	fmt.Fprintf(&b, "- **ID:** `%s`\n", conv.ID)
	fmt.Fprintf(&b, "- **Started:** %s\n", conv.StartedAt.Format(time.RFC3339))
	if conv.EndedAt != nil {
		fmt.Fprintf(&b, "- **Ended:** %s\n", conv.EndedAt.Format(time.RFC3339))
	} else if conv.Active {
		b.WriteString("- **Status:** active\n")
	}
	if conv.Outcome != "" {
		fmt.Fprintf(&b, "- **Outcome:** %s\n", conv.Outcome)
	}
	if conv.ClosingMarker != "" {
		fmt.Fprintf(&b, "- **Closed by:** \"%s\"\n", conv.ClosingMarker)
	}
	if len(conv.Entities) > 0 {
		fmt.Fprintf(&b, "- **Entities:** %s\n", codeList(conv.Entities))
	}
	if len(conv.FilesTouched) > 0 {
		fmt.Fprintf(&b, "- **Files:** %s\n", codeList(conv.FilesTouched))
	}

	b.WriteString("\n## Messages\n\n")
	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "**%s** _%s_\n\n%s\n\n", msg.Role, msg.Timestamp.Format("15:04:05"), msg.Text)
	}

	return b.String()
}

func codeList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "`" + v + "`"
	}
	return strings.Join(quoted, ", ")
}
