package rules

import (
	"errors"
	"fmt"
	"slices"
)

// Engine evaluates requests against a fixed rule set. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	rules []Rule
}

// NewEngine validates rules and returns an engine over a private copy of them.
func NewEngine(rules ...Rule) (*Engine, error) {
	if len(rules) == 0 {
		return nil, errors.New("at least one rule is required")
	}

	seen := make(map[string]struct{}, len(rules))
	owned := make([]Rule, 0, len(rules))
	for _, r := range rules {
		switch {
		case r.ID == "":
			return nil, errors.New("rule id is required")
		case !r.Layer.Valid():
			return nil, fmt.Errorf("rule %s: unknown layer %d", r.ID, int(r.Layer))
		case r.Predicate == nil:
			return nil, fmt.Errorf("rule %s: predicate is required", r.ID)
		case len(r.Alternatives) == 0:
			return nil, fmt.Errorf("rule %s: at least one alternative is required", r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = struct{}{}

		r.Alternatives = slices.Clone(r.Alternatives)
		owned = append(owned, r)
	}

	slices.SortStableFunc(owned, func(a, b Rule) int { return int(a.Layer) - int(b.Layer) })
	return &Engine{rules: owned}, nil
}

// NewDefaultEngine returns an engine over DefaultRules.
func NewDefaultEngine() *Engine {
	e, err := NewEngine(DefaultRules()...)
	if err != nil {
		panic(fmt.Sprintf("default rule set is invalid: %v", err))
	}
	return e
}

// Evaluate runs every rule against req. Evaluation never short-circuits: all
// layers run and their violations are aggregated. The overall decision is the
// highest severity found.
func (e *Engine) Evaluate(req Request) Verdict {
	v := Verdict{Decision: Allow, Violations: []Violation{}}
	worst := SeverityOK

	for _, r := range e.rules {
		sev, reason := r.Predicate(req)
		if sev == SeverityOK {
			continue
		}
		if r.Layer == LayerImmutability {
			sev = SeverityBlocked
		}
		if sev > worst {
			worst = sev
		}
		v.Violations = append(v.Violations, Violation{
			RuleID:       r.ID,
			Layer:        r.Layer,
			Severity:     sev,
			Reason:       reason,
			Alternatives: slices.Clone(r.Alternatives),
		})
	}

	switch worst {
	case SeverityBlocked:
		v.Decision = Block
	case SeverityWarning:
		v.Decision = Warn
	}
	return v
}

// Rules returns a copy of the rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		r.Alternatives = slices.Clone(r.Alternatives)
		out[i] = r
	}
	return out
}
