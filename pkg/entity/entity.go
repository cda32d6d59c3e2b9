// Package entity extracts typed entities from free-form message text and
// normalizes text into placeholder templates.
//
// Everything in this package is a pure function over its input. Scoring built
// on top of it (entity overlap, pattern signatures) is therefore deterministic.
package entity

import (
	"regexp"
	"slices"
	"strings"
)

// Type is the kind of a detected entity. It doubles as the placeholder name
// used by Normalize, e.g. "{color}".
type Type string

const (
	TypeFile      Type = "file"
	TypeColor     Type = "color"
	TypeComponent Type = "component"
	TypeNumber    Type = "number"
	TypeTerm      Type = "term"
	TypeFeature   Type = "feature"
)

// Placeholder returns the template token for t.
func (t Type) Placeholder() string {
	return "{" + string(t) + "}"
}

// Entity is a concrete value found in a message.
type Entity struct {
	Type  Type   `json:"type"`
	Value string `json:"value"`

	// first and last token index covered by the entity
	start, end int
}

var (
	tokenRe = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_'./\-]*[A-Za-z0-9_]|[A-Za-z0-9_]|[,;:.!?]`)
	fileRe  = regexp.MustCompile(`^[A-Za-z0-9_./\-]+\.(go|mod|sum|ts|tsx|js|jsx|py|rb|rs|java|kt|swift|c|h|cpp|md|json|yaml|yml|toml|css|scss|html|sql|sh|proto|txt)$`)
	termRe  = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,5}$`)
	digitRe = regexp.MustCompile(`^[0-9]+$`)
)

var colors = set(
	"red", "orange", "yellow", "green", "blue", "purple", "violet", "pink",
	"black", "white", "gray", "grey", "brown", "teal", "cyan", "magenta",
	"indigo", "gold", "silver",
)

var components = set(
	"button", "fab", "modal", "navbar", "header", "footer", "sidebar", "form",
	"input", "card", "table", "menu", "dialog", "tab", "page", "screen",
	"layout", "icon", "logo", "banner", "dropdown", "tooltip", "toast", "list",
	"grid", "api", "endpoint", "database", "schema", "query", "server",
	"client", "cache", "queue", "worker", "config", "router", "handler",
)

// featureVerbs introduce a feature phrase: "add dark mode", "fix the login bug".
var featureVerbs = set("add", "implement", "build", "create", "remove", "fix", "refactor")

var articles = set("a", "an", "the", "some", "my", "our", "new")

var stopWords = set(
	"and", "then", "to", "for", "with", "in", "on", "of", "so", "but", "or",
	"that", "which", "using", "by", "from", "into", "because", "please",
	"also", "it", "them", "they", "this", "as", "at", "when", "if",
)

var pronouns = set("it", "them", "they")

var intentVerbs = set(
	"add", "implement", "create", "build", "fix", "remove", "delete",
	"update", "refactor", "rename", "move", "test", "commit", "deploy",
	"document", "review", "make", "change", "plan", "run",
)

type token struct {
	raw   string
	lower string
	punct bool
}

func tokenize(text string) []token {
	raw := tokenRe.FindAllString(text, -1)
	out := make([]token, 0, len(raw))
	for _, r := range raw {
		out = append(out, token{
			raw:   r,
			lower: strings.ToLower(r),
			punct: len(r) == 1 && strings.ContainsAny(r, ",;:.!?"),
		})
	}
	return out
}

// classify returns the entity type of a single token, if any.
func classify(t token) (Type, bool) {
	switch {
	case t.punct:
		return "", false
	case fileRe.MatchString(t.raw):
		return TypeFile, true
	case colors[t.lower]:
		return TypeColor, true
	case components[t.lower]:
		return TypeComponent, true
	case digitRe.MatchString(t.raw):
		return TypeNumber, true
	case termRe.MatchString(t.raw):
		return TypeTerm, true
	}
	return "", false
}

func extract(tokens []token) []Entity {
	var out []Entity
	typed := make([]bool, len(tokens))
	for i, t := range tokens {
		if typ, ok := classify(t); ok {
			out = append(out, Entity{Type: typ, Value: t.lower, start: i, end: i})
			typed[i] = true
		}
	}

	for i, t := range tokens {
		if !featureVerbs[t.lower] {
			continue
		}
		j := i + 1
		for j < len(tokens) && articles[tokens[j].lower] {
			j++
		}
		start := j
		for j < len(tokens) && j-start < 3 {
			n := tokens[j]
			if n.punct || typed[j] || stopWords[n.lower] || intentVerbs[n.lower] {
				break
			}
			j++
		}
		if j == start {
			continue
		}
		words := make([]string, 0, j-start)
		for k := start; k < j; k++ {
			words = append(words, tokens[k].lower)
			typed[k] = true
		}
		out = append(out, Entity{Type: TypeFeature, Value: strings.Join(words, " "), start: start, end: j - 1})
	}

	slices.SortStableFunc(out, func(a, b Entity) int { return a.start - b.start })
	return out
}

// Extract returns the entities found in text in order of appearance.
func Extract(text string) []Entity {
	return extract(tokenize(text))
}

// Values returns the distinct, sorted values of ents.
func Values(ents []Entity) []string {
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.Value)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Normalize lowercases text, drops punctuation and replaces every entity span
// with its typed placeholder: "Make it purple!" becomes "make it {color}".
func Normalize(text string) string {
	tokens := tokenize(text)
	ents := extract(tokens)

	spans := make(map[int]Entity, len(ents))
	for _, e := range ents {
		spans[e.start] = e
	}

	words := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if e, ok := spans[i]; ok {
			words = append(words, e.Type.Placeholder())
			i = e.end
			continue
		}
		if tokens[i].punct {
			continue
		}
		words = append(words, tokens[i].lower)
	}
	return strings.Join(words, " ")
}

// HasPlaceholder reports whether s contains at least one typed placeholder.
func HasPlaceholder(s string) bool {
	for _, t := range []Type{TypeFile, TypeColor, TypeComponent, TypeNumber, TypeTerm, TypeFeature} {
		if strings.Contains(s, t.Placeholder()) {
			return true
		}
	}
	return false
}

// Intents returns the action verbs of text in order, with immediate repeats
// collapsed: "add search and test it" yields [add test].
func Intents(text string) []string {
	var out []string
	for _, t := range tokenize(text) {
		if intentVerbs[t.lower] && (len(out) == 0 || out[len(out)-1] != t.lower) {
			out = append(out, t.lower)
		}
	}
	return out
}

// Topic derives a short title for a conversation from its first message.
func Topic(text string) string {
	ents := Extract(text)
	for _, want := range []Type{TypeFeature, TypeComponent, TypeFile, TypeTerm} {
		for _, e := range ents {
			if e.Type == want {
				return e.Value
			}
		}
	}

	words := strings.Fields(Normalize(text))
	if len(words) == 0 {
		return "untitled"
	}
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
