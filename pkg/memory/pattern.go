package memory

import (
	"math"
	"slices"
	"time"
)

// Category classifies a Pattern by the kind of regularity it captures.
type Category string

const (
	CategoryConversationPattern Category = "conversation_pattern"
	CategoryEntityRule          Category = "entity_rule"
	CategoryBoundaryMarker      Category = "boundary_marker"
	CategoryMultiIntentSequence Category = "multi_intent_sequence"
	CategoryFileRelationship    Category = "file_relationship"
)

// Categories returns every known category.
func Categories() []Category {
	return []Category{
		CategoryConversationPattern,
		CategoryEntityRule,
		CategoryBoundaryMarker,
		CategoryMultiIntentSequence,
		CategoryFileRelationship,
	}
}

// ParseCategory parses s into a Category. The empty string is not a category.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	if slices.Contains(Categories(), c) {
		return c, true
	}
	return "", false
}

const (
	// InitialConfidence is assigned to a Pattern on first observation.
	InitialConfidence = 0.60

	// ReinforcementStep is added to confidence on every repeat observation.
	ReinforcementStep = 0.05

	// MaxConfidence bounds confidence from above.
	MaxConfidence = 0.99

	// DefaultExampleLimit is the ring buffer size for Pattern examples.
	DefaultExampleLimit = 10
)

// Pattern is a durable Tier-2 record keyed by its normalized signature.
type Pattern struct {
	ID               string    `json:"id"`
	Signature        string    `json:"signature"`
	Category         Category  `json:"category"`
	Confidence       float64   `json:"confidence"`
	ObservedCount    int       `json:"observed_count"`
	Examples         []string  `json:"examples"`
	LastReinforcedAt time.Time `json:"last_reinforced_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// Clone returns a deep copy of the pattern.
func (p *Pattern) Clone() Pattern {
	out := *p
	out.Examples = slices.Clone(p.Examples)
	return out
}

// Reinforce records one more observation of the pattern.
func (p *Pattern) Reinforce(example string, limit int, at time.Time) {
	p.ObservedCount++
	p.Confidence = ClampConfidence(p.Confidence + ReinforcementStep)
	p.AddExample(example, limit)
	p.LastReinforcedAt = at
}

// AddExample appends example to the ring buffer, dropping the oldest entries
// beyond limit.
func (p *Pattern) AddExample(example string, limit int) {
	if example == "" {
		return
	}
	if limit <= 0 {
		limit = DefaultExampleLimit
	}
	p.Examples = append(p.Examples, example)
	if over := len(p.Examples) - limit; over > 0 {
		p.Examples = slices.Delete(p.Examples, 0, over)
	}
}

// Prunable reports whether the pattern has too little support to keep.
// A single observation at the initial confidence qualifies.
func (p *Pattern) Prunable() bool {
	return p.ObservedCount < 3 && p.Confidence <= InitialConfidence
}

// ClampConfidence bounds c to [0, MaxConfidence] and rounds it to four
// decimal places so repeated reinforcement does not accumulate float drift.
func ClampConfidence(c float64) float64 {
	c = math.Round(c*10000) / 10000
	switch {
	case c < 0:
		return 0
	case c > MaxConfidence:
		return MaxConfidence
	default:
		return c
	}
}
