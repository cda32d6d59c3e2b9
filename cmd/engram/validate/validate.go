// Package validatecmder provides the validate command that pre-flights a
// proposed mutation against the rule engine.
package validatecmder

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/rules"
)

type ValidateCommander struct {
	target         string
	op             string
	description    string
	text           string
	conversationID string
	actor          string
	files          []string
	storage        bootstrap.StorageTargets
}

const validateLongDesc string = `Check a proposed mutation against the memory rules.

Nothing is changed. The verdict is ALLOW, WARN or BLOCK with the rules
that fired and the alternatives they suggest. A BLOCK verdict exits with
a non-zero status so the command can gate scripts and hooks.

Targets: tier1, tier2, ruleset, external.
Operations: append, start_new, end, update, insert_pattern,
reinforce_pattern, delete_pattern, prune, modify_rule, code_change.

Examples:
  engram validate --target external --op code_change --description "add FAB button"
  engram validate --target external --op code_change --file pkg/rules/defaults.go
  engram validate --target tier2 --op delete_pattern`

const validateShortDesc string = "Pre-flight a mutation against the rules"

func NewValidateCmd() *cobra.Command {
	cmder := &ValidateCommander{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: validateShortDesc,
		Long:  validateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.target, "target", "t", "", "Resource the mutation changes (required)")
	cmd.Flags().StringVar(&cmder.op, "op", "", "Proposed operation (required)")
	cmd.Flags().StringVar(&cmder.description, "description", "", "What the mutation does")
	cmd.Flags().StringVar(&cmder.text, "text", "", "Message text carried by the mutation")
	cmd.Flags().StringVar(&cmder.conversationID, "conversation", "", "Conversation the mutation applies to")
	cmd.Flags().StringVar(&cmder.actor, "actor", "cli", "Who proposes the mutation")
	cmd.Flags().StringSliceVarP(&cmder.files, "file", "f", nil, "File the mutation touches (repeatable)")
	bootstrap.AddStorageFlags(cmd, &cmder.storage)

	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("op")

	return cmd
}

func (c *ValidateCommander) run(cmd *cobra.Command) error {
	mem, err := bootstrap.Open(cmd)
	if err != nil {
		return err
	}
	defer mem.Close()

	verdict := mem.ValidateMutation(rules.Request{
		Op:             rules.Operation(c.op),
		Target:         rules.Target(c.target),
		Actor:          c.actor,
		Description:    c.description,
		ConversationID: c.conversationID,
		Text:           c.text,
		Files:          c.files,
	})

	printVerdict(cmd.OutOrStdout(), verdict)

	if verdict.Blocked() {
		return errors.New("mutation blocked")
	}
	return nil
}

func printVerdict(w io.Writer, v rules.Verdict) {
	var decision string
	switch v.Decision {
	case rules.Allow:
		decision = cliui.SuccessMark + " " + string(v.Decision)
	case rules.Warn:
		decision = cliui.WarnStyle.Render("! " + string(v.Decision))
	default:
		decision = cliui.FailMark + " " + string(v.Decision)
	}
	fmt.Fprintf(w, "\n  %s\n", cliui.HeaderStyle.Render(decision))

	for _, vi := range v.Violations {
		fmt.Fprintf(w, "\n  %s %s\n",
			cliui.KeyStyle.Render(vi.RuleID),
			cliui.DimStyle.Render(fmt.Sprintf("(%s, %s)", vi.Layer, vi.Severity)),
		)
		fmt.Fprintf(w, "    %s\n", vi.Reason)
	}

	if alts := v.Alternatives(); len(alts) > 0 {
		fmt.Fprintf(w, "\n  %s\n", cliui.HeaderStyle.Render("Alternatives"))
		for _, a := range alts {
			fmt.Fprintf(w, "    - %s\n", a)
		}
	}
	fmt.Fprintln(w)
}
