// Package patternscmder provides the patterns command that searches the
// Tier-2 pattern registry.
package patternscmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/cmd/engram/bootstrap"
	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/utils"
)

type PatternsCommander struct {
	category string
	prefix   string
	limit    int
	storage  bootstrap.StorageTargets
}

const patternsLongDesc string = `Search the learned patterns, best supported first.

The optional query matches a case-insensitive substring of a pattern's
signature or of any of its examples.

Categories: conversation_pattern, entity_rule, boundary_marker,
multi_intent_sequence, file_relationship.

Examples:
  engram patterns
  engram patterns button --category conversation_pattern
  engram patterns --prefix "add ->" --limit 5`

const patternsShortDesc string = "Search learned patterns"

const signatureWidth = 44

func NewPatternsCmd() *cobra.Command {
	cmder := &PatternsCommander{}

	cmd := &cobra.Command{
		Use:   "patterns [query]",
		Short: patternsShortDesc,
		Long:  patternsLongDesc,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, strings.Join(args, " "))
		},
		ValidArgsFunction: func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().StringVarP(&cmder.category, "category", "c", "", "Only patterns of this category")
	cmd.Flags().StringVar(&cmder.prefix, "prefix", "", "Only signatures starting with this prefix")
	cmd.Flags().IntVar(&cmder.limit, "limit", 20, "Maximum number of patterns")
	bootstrap.AddStorageFlags(cmd, &cmder.storage)

	_ = cmd.RegisterFlagCompletionFunc("category", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		names := make([]string, 0, len(memory.Categories()))
		for _, c := range memory.Categories() {
			names = append(names, string(c))
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func (c *PatternsCommander) run(cmd *cobra.Command, query string) error {
	q := consolidation.Query{
		Text:   query,
		Prefix: c.prefix,
		Limit:  c.limit,
	}
	if c.category != "" {
		cat, ok := memory.ParseCategory(c.category)
		if !ok {
			return fmt.Errorf("unknown category %q", c.category)
		}
		q.Category = cat
	}
	if c.limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", c.limit)
	}

	mem, err := bootstrap.Open(cmd)
	if err != nil {
		return err
	}
	defer mem.Close()

	printPatterns(cmd.OutOrStdout(), mem.QueryPatterns(q))
	return nil
}

func printPatterns(w io.Writer, patterns []memory.Pattern) {
	if len(patterns) == 0 {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No matching patterns."))
		return
	}

	fmt.Fprintln(w)
	for _, p := range patterns {
		fmt.Fprintf(w, "  %s  %-*s  %s\n",
			cliui.FormatConfidence(p.Confidence, memory.InitialConfidence),
			signatureWidth, utils.Truncate(p.Signature, signatureWidth),
			cliui.DimStyle.Render(fmt.Sprintf("%s · seen %d×", p.Category, p.ObservedCount)),
		)
		if n := len(p.Examples); n > 0 {
			fmt.Fprintf(w, "        %s\n", cliui.DimStyle.Render("e.g. "+utils.Truncate(p.Examples[n-1], 60)))
		}
	}
	fmt.Fprintln(w)
}
