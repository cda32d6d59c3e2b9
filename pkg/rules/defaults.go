package rules

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/engram/pkg/entity"
	"github.com/papercomputeco/engram/pkg/memory"
)

// ruleDefinitionPaths are the source locations of the rule set.
var ruleDefinitionPaths = []string{"pkg/rules/", "rules.yaml", "rules.toml"}

var ruleTamperPhrases = []string{
	"disable rule", "disable the rule", "remove rule", "remove the rule",
	"delete rule", "modify rule", "override rule", "bypass rule",
	"turn off the rule", "relax the rule",
}

var testBypassPhrases = []string{
	"skip tests", "skip the tests", "skipping tests", "skip testing",
	"without tests", "without testing", "no tests", "disable tests",
	"disable the tests", "bypass tests", "--no-verify", "comment out the test",
	"delete the failing test", "ignore failing tests",
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "ruleset-immutable",
			Layer:       LayerImmutability,
			Description: "Rule definitions cannot be altered at runtime",
			Predicate: func(req Request) (Severity, string) {
				switch {
				case req.Target == TargetRuleSet:
					return SeverityBlocked, "request targets the rule set"
				case req.Op == OpModifyRule:
					return SeverityBlocked, "request modifies a rule"
				}
				if p, ok := containsAny(req.Description, ruleTamperPhrases); ok {
					return SeverityBlocked, fmt.Sprintf("request asks to %q", p)
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Change rule definitions in source, review them, and redeploy",
				"Describe the change you actually need and pre-flight it with ValidateMutation",
			},
		},
		{
			ID:          "ruleset-files",
			Layer:       LayerImmutability,
			Description: "Rule definition files are protected",
			Predicate: func(req Request) (Severity, string) {
				for _, f := range req.Files {
					for _, p := range ruleDefinitionPaths {
						if strings.Contains(f, p) {
							return SeverityBlocked, fmt.Sprintf("file %s holds rule definitions", f)
						}
					}
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Leave rule definition files out of this change",
				"Propose rule changes through code review instead of an in-process mutation",
			},
		},
		{
			ID:          "raw-into-tier2",
			Layer:       LayerTierBoundary,
			Description: "Raw conversation content never enters the pattern store",
			Predicate: func(req Request) (Severity, string) {
				if req.Target != TargetTier2 {
					return SeverityOK, ""
				}
				if req.Conversation != nil || req.Text != "" {
					return SeverityBlocked, "raw conversation content written to the pattern store"
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Let consolidation derive normalized signatures from evicted conversations",
				"Submit a Pattern with a placeholder signature instead of raw text",
			},
		},
		{
			ID:          "pattern-into-tier1",
			Layer:       LayerTierBoundary,
			Description: "Derived pattern data never enters the conversation store",
			Predicate: func(req Request) (Severity, string) {
				if req.Target == TargetTier1 && req.Pattern != nil {
					return SeverityBlocked, "derived pattern data written to the conversation store"
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Query patterns through SearchPatterns instead of copying them into a conversation",
			},
		},
		{
			ID:          "template-into-tier1",
			Layer:       LayerTierBoundary,
			Description: "Message text that looks like a derived template",
			Predicate: func(req Request) (Severity, string) {
				if req.Target == TargetTier1 && entity.HasPlaceholder(req.Text) {
					return SeverityWarning, "message text contains template placeholders"
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Record the concrete user text rather than a normalized template",
			},
		},
		{
			ID:          "literal-signature",
			Layer:       LayerTierBoundary,
			Description: "Conversation patterns should be generalized",
			Predicate: func(req Request) (Severity, string) {
				p := req.Pattern
				if req.Target != TargetTier2 || p == nil || p.Category != memory.CategoryConversationPattern {
					return SeverityOK, ""
				}
				if !entity.HasPlaceholder(p.Signature) {
					return SeverityWarning, fmt.Sprintf("signature %q has no placeholders", p.Signature)
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Normalize concrete values into typed placeholders before storing",
			},
		},
		{
			ID:          "overconfident-pattern",
			Layer:       LayerStructural,
			Description: "High confidence requires repeated observation",
			Predicate: func(req Request) (Severity, string) {
				p := req.Pattern
				if p != nil && p.Confidence > 0.9 && p.ObservedCount <= 1 {
					return SeverityWarning, fmt.Sprintf("confidence %.2f from %d observation", p.Confidence, p.ObservedCount)
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Insert new patterns at the initial confidence and let reinforcement raise it",
			},
		},
		{
			ID:          "confidence-range",
			Layer:       LayerStructural,
			Description: "Confidence stays within [0, 0.99]",
			Predicate: func(req Request) (Severity, string) {
				p := req.Pattern
				if p != nil && (p.Confidence < 0 || p.Confidence > memory.MaxConfidence) {
					return SeverityWarning, fmt.Sprintf("confidence %.4f out of range", p.Confidence)
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Clamp confidence with memory.ClampConfidence",
			},
		},
		{
			ID:          "missing-signature",
			Layer:       LayerStructural,
			Description: "Patterns are keyed by signature",
			Predicate: func(req Request) (Severity, string) {
				if req.Pattern != nil && strings.TrimSpace(req.Pattern.Signature) == "" {
					return SeverityWarning, "pattern has an empty signature"
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Derive a signature from the normalized source text",
			},
		},
		{
			ID:          "empty-message",
			Layer:       LayerStructural,
			Description: "Messages carry text",
			Predicate: func(req Request) (Severity, string) {
				if (req.Op == OpAppend || req.Op == OpStartNew) && strings.TrimSpace(req.Text) == "" {
					return SeverityWarning, "message text is empty"
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Drop empty messages before recording them",
			},
		},
		{
			ID:          "tier1-capacity",
			Layer:       LayerCapacity,
			Description: "Tier-1 capacity is only exceeded through FIFO eviction",
			Predicate: func(req Request) (Severity, string) {
				capacity := req.Snapshot.MaxConversations
				if req.Target != TargetTier1 || req.Sanctioned || capacity <= 0 {
					return SeverityOK, ""
				}
				if req.Projected > capacity {
					return SeverityBlocked, fmt.Sprintf("would hold %d conversations, capacity is %d", req.Projected, capacity)
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Start conversations through RecordMessage so the oldest closed one is evicted",
				"Close the active conversation before starting another",
			},
		},
		{
			ID:          "example-buffer",
			Layer:       LayerCapacity,
			Description: "Pattern examples are a bounded ring buffer",
			Predicate: func(req Request) (Severity, string) {
				p := req.Pattern
				limit := req.Snapshot.ExampleLimit
				if p != nil && limit > 0 && len(p.Examples) > limit {
					return SeverityBlocked, fmt.Sprintf("%d examples exceed the limit of %d", len(p.Examples), limit)
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Keep only the most recent examples with Pattern.AddExample",
			},
		},
		{
			ID:          "tdd-bypass",
			Layer:       LayerWorkflow,
			Description: "Changes are never made by skipping tests",
			Predicate: func(req Request) (Severity, string) {
				if req.Target != TargetExternal && req.Op != OpCodeChange {
					return SeverityOK, ""
				}
				if p, ok := containsAny(req.Description+" "+req.Text, testBypassPhrases); ok {
					return SeverityBlocked, fmt.Sprintf("proposal bypasses tests (%q)", p)
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Write a failing test first, then implement until it passes",
				"Run the existing suite and fix the failures before committing",
				"Mark a flaky test pending with a tracked reason instead of skipping the suite",
			},
		},
		{
			ID:          "bulk-pattern-wipe",
			Layer:       LayerWorkflow,
			Description: "The pattern registry is never wiped wholesale",
			Predicate: func(req Request) (Severity, string) {
				if req.Target == TargetTier2 && req.Op == OpDeletePattern && req.Pattern == nil {
					return SeverityBlocked, "delete without a pattern would clear the registry"
				}
				return SeverityOK, ""
			},
			Alternatives: []string{
				"Run Prune to drop weakly supported patterns",
				"Delete patterns individually by signature",
			},
		},
	}
}

func containsAny(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}
