package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/rules"
)

var (
	searchPatternsToolName    = "search_patterns"
	searchPatternsDescription = "Search engram long-term memory for consolidated patterns: recurring message templates, intent sequences, pronoun references, boundary phrases and files edited together. Results are ordered by confidence."

	validateMutationToolName    = "validate_mutation"
	validateMutationDescription = "Ask engram's rule engine whether a proposed change is allowed before making it. Returns ALLOW, WARN or BLOCK with reasons and suggested alternatives. Always call this before changing rule definitions, skipping tests or bulk-deleting memory."
)

// SearchPatternsInput represents the input arguments for search_patterns.
type SearchPatternsInput struct {
	Query    string `json:"query,omitempty" jsonschema:"substring to match against signatures and examples"`
	Category string `json:"category,omitempty" jsonschema:"conversation_pattern, multi_intent_sequence, entity_rule, boundary_marker or file_relationship"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of patterns to return (default 10)"`
}

// PatternResult is one pattern returned by search_patterns.
type PatternResult struct {
	Signature     string   `json:"signature"`
	Category      string   `json:"category"`
	Confidence    float64  `json:"confidence"`
	ObservedCount int      `json:"observed_count"`
	Examples      []string `json:"examples"`
}

// SearchPatternsOutput represents the structured output of search_patterns.
type SearchPatternsOutput struct {
	Patterns []PatternResult `json:"patterns"`
}

// ValidateMutationInput represents the input arguments for validate_mutation.
type ValidateMutationInput struct {
	Op          string   `json:"op" jsonschema:"the proposed operation, e.g. code_change, modify_rule, delete_pattern"`
	Target      string   `json:"target" jsonschema:"what is changed: tier1, tier2, ruleset or external"`
	Description string   `json:"description" jsonschema:"plain language description of the change"`
	Files       []string `json:"files,omitempty" jsonschema:"files the change touches"`
	Actor       string   `json:"actor,omitempty" jsonschema:"who proposes the change"`
}

// ViolationResult is one fired rule.
type ViolationResult struct {
	RuleID       string   `json:"rule_id"`
	Layer        string   `json:"layer"`
	Severity     string   `json:"severity"`
	Reason       string   `json:"reason"`
	Alternatives []string `json:"alternatives"`
}

// ValidateMutationOutput represents the structured output of validate_mutation.
type ValidateMutationOutput struct {
	Decision   string            `json:"decision"`
	Violations []ViolationResult `json:"violations"`
}

func (s *Server) handleSearchPatterns(_ context.Context, _ *mcp.CallToolRequest, input SearchPatternsInput) (*mcp.CallToolResult, SearchPatternsOutput, error) {
	q := consolidation.Query{Text: input.Query, Limit: input.Limit}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if input.Category != "" {
		cat, ok := memory.ParseCategory(input.Category)
		if !ok {
			return errorResult("unknown category %q", input.Category), SearchPatternsOutput{}, nil
		}
		q.Category = cat
	}

	patterns := s.config.Memory.QueryPatterns(q)
	output := SearchPatternsOutput{Patterns: make([]PatternResult, 0, len(patterns))}
	for _, p := range patterns {
		output.Patterns = append(output.Patterns, PatternResult{
			Signature:     p.Signature,
			Category:      string(p.Category),
			Confidence:    p.Confidence,
			ObservedCount: p.ObservedCount,
			Examples:      append([]string{}, p.Examples...),
		})
	}

	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: %v", err), SearchPatternsOutput{}, nil
	}
	return result, output, nil
}

func (s *Server) handleValidateMutation(_ context.Context, _ *mcp.CallToolRequest, input ValidateMutationInput) (*mcp.CallToolResult, ValidateMutationOutput, error) {
	if input.Op == "" || input.Target == "" {
		return errorResult("op and target are required"), ValidateMutationOutput{}, nil
	}

	actor := input.Actor
	if actor == "" {
		actor = "mcp"
	}

	verdict := s.config.Memory.ValidateMutation(rules.Request{
		Op:          rules.Operation(input.Op),
		Target:      rules.Target(input.Target),
		Actor:       actor,
		Description: input.Description,
		Files:       input.Files,
	})

	output := ValidateMutationOutput{
		Decision:   string(verdict.Decision),
		Violations: make([]ViolationResult, 0, len(verdict.Violations)),
	}
	for _, v := range verdict.Violations {
		output.Violations = append(output.Violations, ViolationResult{
			RuleID:       v.RuleID,
			Layer:        v.Layer.String(),
			Severity:     v.Severity.String(),
			Reason:       v.Reason,
			Alternatives: append([]string{}, v.Alternatives...),
		})
	}

	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: %v", err), ValidateMutationOutput{}, nil
	}
	return result, output, nil
}
