// Package recordcmder provides the record command that routes a message into
// the engram memory.
package recordcmder

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/memory"
)

type RecordCommander struct {
	files     []string
	resolve   string
	system    bool
	at        string
	configDir string
	storage   bootstrap.StorageTargets
}

const recordLongDesc string = `Record a message in the engram memory.

The message is appended to the active conversation or starts a new one,
depending on explicit markers, the time since the last message and the
overlap of mentioned entities.

When the decision is ambiguous nothing is recorded. The message is kept
in the .engram/ directory and a clarification prompt is printed. Answer
it with --resolve to replay the pending message:
  engram record --resolve continue
  engram record --resolve new

Examples:
  engram record "add a FAB button to the home screen"
  engram record "make it purple" --file src/ui/Fab.tsx
  engram record "fix the login crash" --at 2026-03-02T10:15:00Z
  engram record --resolve new`

const recordShortDesc string = "Record a message in the memory"

func NewRecordCmd() *cobra.Command {
	cmder := &RecordCommander{}

	cmd := &cobra.Command{
		Use:   "record [message]",
		Short: recordShortDesc,
		Long:  recordLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run(cmd, strings.TrimSpace(strings.Join(args, " ")))
		},
	}

	cmd.Flags().StringSliceVarP(&cmder.files, "file", "f", nil, "File touched by this message (repeatable)")
	cmd.Flags().StringVar(&cmder.resolve, "resolve", "", "Answer a clarification prompt (continue, new)")
	cmd.Flags().BoolVar(&cmder.system, "system", false, "Record the message with the system role")
	cmd.Flags().StringVar(&cmder.at, "at", "", "Message timestamp as RFC3339 (default: now)")
	bootstrap.AddStorageFlags(cmd, &cmder.storage)

	return cmd
}

func (c *RecordCommander) run(cmd *cobra.Command, text string) error {
	resolve := engram.Resolution(c.resolve)
	switch resolve {
	case engram.ResolveNone, engram.ResolveContinue, engram.ResolveNew:
	default:
		return fmt.Errorf("invalid --resolve value %q (expected continue or new)", c.resolve)
	}

	ddm := dotdir.NewManager()

	meta := engram.Metadata{
		Role:    memory.RoleUser,
		Files:   c.files,
		Resolve: resolve,
	}
	if c.system {
		meta.Role = memory.RoleSystem
	}
	if c.at != "" {
		ts, err := time.Parse(time.RFC3339, c.at)
		if err != nil {
			return fmt.Errorf("invalid --at value: %w", err)
		}
		meta.Timestamp = ts
	}

	replaying := false
	if text == "" {
		if resolve == engram.ResolveNone {
			return errors.New("a message is required")
		}
		pending, err := ddm.LoadPending(c.configDir)
		if err != nil {
			return err
		}
		if pending == nil {
			return errors.New("no pending message to resolve")
		}
		text = pending.Text
		meta.Timestamp = pending.Timestamp
		meta.Files = append(pending.Files, c.files...)
		replaying = true
	}

	mem, err := bootstrap.Open(cmd)
	if err != nil {
		return err
	}
	defer mem.Close()

	rec, err := mem.RecordMessage(cmd.Context(), text, meta)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rec.NeedsClarification {
		ts := meta.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		err := ddm.SavePending(&dotdir.PendingMessage{
			Text:           text,
			Timestamp:      ts,
			Files:          meta.Files,
			ConversationID: rec.ConversationID,
			Prompt:         rec.Prompt,
		}, c.configDir)
		if err != nil {
			return fmt.Errorf("saving pending message: %w", err)
		}
		printClarification(out, rec)
		return nil
	}

	if replaying {
		if err := ddm.ClearPending(c.configDir); err != nil {
			return err
		}
	}

	printRecorded(out, rec)
	return nil
}

func printRecorded(w io.Writer, rec engram.Recorded) {
	fmt.Fprintf(w, "\n  %s Recorded in %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(rec.ConversationID))
	fmt.Fprintf(w, "  %s\n\n", cliui.DimStyle.Render(fmt.Sprintf("%s (%s, confidence %.2f)",
		rec.Decision.Kind, rec.Decision.Signal, rec.Decision.Confidence)))
}

func printClarification(w io.Writer, rec engram.Recorded) {
	fmt.Fprintf(w, "\n  %s %s\n\n", cliui.WarnStyle.Render("?"), rec.Prompt)
	fmt.Fprintf(w, "  %s\n\n", cliui.DimStyle.Render("Answer with: engram record --resolve continue | new"))
}
