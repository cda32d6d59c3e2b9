// Package rules implements the layered rule engine that gates every mutation
// of the memory subsystem.
//
// The rule set is fixed when an Engine is constructed and cannot be changed
// afterwards; requests that target the rule set itself are rejected by the
// engine's own first layer.
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Layer orders rule evaluation. Lower layers are evaluated first.
type Layer int

const (
	LayerImmutability Layer = iota + 1
	LayerTierBoundary
	LayerStructural
	LayerCapacity
	LayerWorkflow
)

// Layers returns every layer in evaluation order.
func Layers() []Layer {
	return []Layer{LayerImmutability, LayerTierBoundary, LayerStructural, LayerCapacity, LayerWorkflow}
}

func (l Layer) String() string {
	switch l {
	case LayerImmutability:
		return "immutability"
	case LayerTierBoundary:
		return "tier-boundary"
	case LayerStructural:
		return "structural"
	case LayerCapacity:
		return "capacity"
	case LayerWorkflow:
		return "workflow"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// Valid reports whether l is a known layer.
func (l Layer) Valid() bool {
	return l >= LayerImmutability && l <= LayerWorkflow
}

// Severity of a single violation.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityBlocked
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityBlocked:
		return "BLOCKED"
	default:
		return "OK"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Decision is the overall outcome of an evaluation.
type Decision string

const (
	Allow Decision = "ALLOW"
	Warn  Decision = "WARN"
	Block Decision = "BLOCK"
)

// Target is the resource a request mutates.
type Target string

const (
	TargetTier1    Target = "tier1"
	TargetTier2    Target = "tier2"
	TargetRuleSet  Target = "ruleset"
	TargetExternal Target = "external"
)

// Operation is the mutation a request proposes.
type Operation string

const (
	OpAppend           Operation = "append"
	OpStartNew         Operation = "start_new"
	OpEnd              Operation = "end"
	OpUpdate           Operation = "update"
	OpInsertPattern    Operation = "insert_pattern"
	OpReinforcePattern Operation = "reinforce_pattern"
	OpDeletePattern    Operation = "delete_pattern"
	OpPrune            Operation = "prune"
	OpModifyRule       Operation = "modify_rule"
	OpCodeChange       Operation = "code_change"
)

// Snapshot is the store state a request is evaluated against.
type Snapshot struct {
	Conversations    int    `json:"conversations"`
	Closed           int    `json:"closed"`
	MaxConversations int    `json:"max_conversations"`
	ActiveID         string `json:"active_id,omitempty"`
	Patterns         int    `json:"patterns"`
	ExampleLimit     int    `json:"example_limit"`
}

// Request is a proposed modification.
type Request struct {
	Op          Operation `json:"op"`
	Target      Target    `json:"target"`
	Actor       string    `json:"actor,omitempty"`
	Description string    `json:"description,omitempty"`

	ConversationID string   `json:"conversation_id,omitempty"`
	Text           string   `json:"text,omitempty"`
	Files          []string `json:"files,omitempty"`

	// Pattern is set when the request carries derived Tier-2 data.
	Pattern *memory.Pattern `json:"pattern,omitempty"`

	// Conversation is set when the request carries a whole raw conversation.
	Conversation *memory.Conversation `json:"conversation,omitempty"`

	// Sanctioned marks Tier-1 inserts that go through FIFO eviction.
	Sanctioned bool `json:"sanctioned,omitempty"`

	// Projected is the Tier-1 conversation count after the mutation.
	Projected int `json:"projected,omitempty"`

	Snapshot Snapshot `json:"snapshot"`
}

// Predicate inspects a request. It returns SeverityOK when the rule does not
// fire, otherwise the severity and a human readable reason.
type Predicate func(req Request) (Severity, string)

// Rule is one immutable invariant check.
type Rule struct {
	ID           string
	Layer        Layer
	Description  string
	Predicate    Predicate
	Alternatives []string
}

// Violation records one fired rule.
type Violation struct {
	RuleID       string   `json:"rule_id"`
	Layer        Layer    `json:"layer"`
	Severity     Severity `json:"severity"`
	Reason       string   `json:"reason"`
	Alternatives []string `json:"alternatives"`
}

// Verdict aggregates every violation of a request.
type Verdict struct {
	Decision   Decision    `json:"decision"`
	Violations []Violation `json:"violations"`
}

// Blocked reports whether the verdict rejects the request.
func (v Verdict) Blocked() bool {
	return v.Decision == Block
}

// Reasons returns the reason of every violation in evaluation order.
func (v Verdict) Reasons() []string {
	out := make([]string, 0, len(v.Violations))
	for _, vi := range v.Violations {
		out = append(out, vi.RuleID+": "+vi.Reason)
	}
	return out
}

// Alternatives returns the distinct alternatives across all violations.
func (v Verdict) Alternatives() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, vi := range v.Violations {
		for _, a := range vi.Alternatives {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// Err converts a blocking verdict into a RuleViolation error, nil otherwise.
func (v Verdict) Err(op, conversationID string) error {
	if !v.Blocked() {
		return nil
	}
	return &memory.Error{
		Kind:           memory.KindRuleViolation,
		Op:             op,
		ConversationID: conversationID,
		Reasons:        v.Reasons(),
		Alternatives:   v.Alternatives(),
	}
}
