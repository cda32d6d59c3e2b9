package consolidation

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/engram/pkg/entity"
	"github.com/papercomputeco/engram/pkg/memory"
)

const (
	// maxExampleLength bounds the size of a stored example snippet in runes.
	maxExampleLength = 120

	// maxRelatedFiles caps the files considered for pairwise relationships.
	maxRelatedFiles = 10
)

// Candidate is a pattern observation derived from one conversation.
type Candidate struct {
	Signature string
	Category  memory.Category
	Example   string
}

// Extract derives the candidate patterns of conv. Each signature appears at
// most once, with the example of its first occurrence.
func Extract(conv memory.Conversation) []Candidate {
	var out []Candidate
	seen := make(map[string]struct{})
	add := func(c Candidate) {
		if c.Signature == "" {
			return
		}
		if _, dup := seen[c.Signature]; dup {
			return
		}
		seen[c.Signature] = struct{}{}
		c.Example = snippet(c.Example)
		out = append(out, c)
	}

	previous := ""
	for _, m := range conv.Messages {
		if m.Role == memory.RoleSystem {
			continue
		}

		if sig := entity.Normalize(m.Text); entity.HasPlaceholder(sig) {
			add(Candidate{Signature: sig, Category: memory.CategoryConversationPattern, Example: m.Text})
		}

		if intents := entity.Intents(m.Text); distinct(intents) >= 2 {
			add(Candidate{
				Signature: strings.Join(intents, " -> "),
				Category:  memory.CategoryMultiIntentSequence,
				Example:   m.Text,
			})
		}

		for _, ref := range entity.References(previous, m.Text) {
			add(Candidate{
				Signature: ref.Pronoun + " => " + ref.Referent.Type.Placeholder(),
				Category:  memory.CategoryEntityRule,
				Example:   ref.Pronoun + " => " + ref.Referent.Value,
			})
		}
		previous = m.Text
	}

	if conv.ClosingMarker != "" {
		marker := strings.ToLower(strings.TrimSpace(conv.ClosingMarker))
		add(Candidate{Signature: marker, Category: memory.CategoryBoundaryMarker, Example: marker})
	}

	files := slices.Clone(conv.FilesTouched)
	slices.Sort(files)
	files = slices.Compact(files)
	if len(files) > maxRelatedFiles {
		files = files[:maxRelatedFiles]
	}
	for i := range files {
		for j := i + 1; j < len(files); j++ {
			pair := files[i] + " <-> " + files[j]
			add(Candidate{Signature: pair, Category: memory.CategoryFileRelationship, Example: pair})
		}
	}

	return out
}

func distinct(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxExampleLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxExampleLength-3]) + "..."
}
