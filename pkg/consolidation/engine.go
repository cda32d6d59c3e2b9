// Package consolidation implements the Tier-2 pattern registry. Conversations
// evicted from Tier-1 are ingested exactly once: their messages are reduced
// to normalized signatures that are merged into confidence-scored patterns.
package consolidation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/metrics"
	"github.com/papercomputeco/engram/pkg/retry"
	"github.com/papercomputeco/engram/pkg/rules"
	"github.com/papercomputeco/engram/pkg/storage"
)

// DefaultPruneEvery is the number of ingests between automatic pruning sweeps.
const DefaultPruneEvery = 50

// ingestedWindow bounds how many consumed conversation ids are remembered.
const ingestedWindow = 4096

const actor = "consolidation-engine"

// Config is the configuration for an Engine.
type Config struct {
	// Driver persists the pattern registry. Required.
	Driver storage.PatternDriver

	// Rules gates every merge. Required.
	Rules *rules.Engine

	// ExampleLimit bounds each pattern's example ring buffer (defaults to 10).
	ExampleLimit int

	// PruneEvery triggers a pruning sweep after that many ingests (defaults
	// to 50). A negative value disables automatic pruning.
	PruneEvery int

	// Retry controls how failed persistence calls are retried.
	Retry retry.Config

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Logger is the configured logger
	Logger *slog.Logger
}

// Result summarizes one Ingest.
type Result struct {
	ConversationID string   `json:"conversation_id"`
	Added          int      `json:"added"`
	Reinforced     int      `json:"reinforced"`
	Skipped        int      `json:"skipped"`
	Pruned         []string `json:"pruned,omitempty"`
}

// PruneResult summarizes one pruning sweep.
type PruneResult struct {
	Removed    int      `json:"removed"`
	Signatures []string `json:"signatures"`
}

// Query filters the registry. Zero fields match everything.
type Query struct {
	// Prefix matches the start of the signature.
	Prefix string

	// Text matches a case-insensitive substring of the signature or of any
	// example.
	Text string

	Category memory.Category

	// Limit caps the number of results. Non-positive means no limit.
	Limit int
}

// Engine is the consolidation engine and owner of the pattern registry.
// Ingest and Prune are serialized by a writer lock; queries return copies and
// never observe a pattern mid-merge.
type Engine struct {
	mu       sync.RWMutex
	patterns map[string]*memory.Pattern
	ingests  int

	// ingested holds the ids of consumed conversations, oldest first in
	// ingestedOrder.
	ingested      map[string]struct{}
	ingestedOrder []string

	driver       storage.PatternDriver
	rules        *rules.Engine
	exampleLimit int
	pruneEvery   int
	retry        retry.Config
	metrics      *metrics.Metrics
	clock        func() time.Time
	logger       *slog.Logger
}

// New creates an Engine and loads the registry from the driver.
func New(ctx context.Context, c Config) (*Engine, error) {
	if c.Driver == nil {
		return nil, errors.New("driver is required")
	}
	if c.Rules == nil {
		return nil, errors.New("rule engine is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if c.ExampleLimit <= 0 {
		c.ExampleLimit = memory.DefaultExampleLimit
	}
	if c.PruneEvery == 0 {
		c.PruneEvery = DefaultPruneEvery
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	e := &Engine{
		patterns:     make(map[string]*memory.Pattern),
		ingested:     make(map[string]struct{}),
		driver:       c.Driver,
		rules:        c.Rules,
		exampleLimit: c.ExampleLimit,
		pruneEvery:   c.PruneEvery,
		retry:        c.Retry,
		metrics:      c.Metrics,
		clock:        c.Clock,
		logger:       c.Logger,
	}

	var loaded []memory.Pattern
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		var err error
		loaded, err = e.driver.LoadPatterns(ctx)
		return err
	})
	if err != nil {
		return nil, &memory.Error{Kind: memory.KindStorageUnavailable, Op: "load_patterns", Err: err}
	}

	for i := range loaded {
		p := &loaded[i]
		p.Confidence = memory.ClampConfidence(p.Confidence)
		e.patterns[p.Signature] = p
	}

	e.metrics.SetPatterns(len(e.patterns))
	e.logger.Debug("pattern registry loaded", "patterns", len(e.patterns))
	return e, nil
}

// Ingest merges the patterns of an evicted conversation into the registry.
// Candidates blocked by the rule engine are skipped. When ctx is cancelled
// the merges applied so far are kept and ctx's error is returned.
func (e *Engine) Ingest(ctx context.Context, conv memory.Conversation) (Result, error) {
	const op = "ingest"

	res := Result{ConversationID: conv.ID}
	if err := checkConversation(conv); err != nil {
		e.metrics.RecordConsolidationError(memory.KindMalformedInput.String())
		e.logger.Warn("skipping malformed conversation",
			"conversation_id", conv.ID,
			"error", err,
		)
		return res, &memory.Error{Kind: memory.KindMalformedInput, Op: op, ConversationID: conv.ID, Err: err}
	}

	start := time.Now()
	defer func() {
		e.metrics.ObserveIngest(time.Since(start).Seconds())
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.ingested[conv.ID]; ok {
		e.metrics.RecordConsolidationError(memory.KindInvalidState.String())
		e.logger.Warn("skipping conversation consolidated before",
			"conversation_id", conv.ID,
		)
		return res, &memory.Error{
			Kind:           memory.KindInvalidState,
			Op:             op,
			ConversationID: conv.ID,
			Err:            errors.New("conversation was already consolidated"),
		}
	}
	e.markIngested(conv.ID)

	for _, c := range Extract(conv) {
		if err := ctx.Err(); err != nil {
			e.metrics.RecordMerge(res.Added, res.Reinforced)
			return res, err
		}

		added, err := e.merge(ctx, conv.ID, c)
		switch {
		case memory.IsKind(err, memory.KindRuleViolation):
			res.Skipped++
			continue
		case err != nil:
			e.metrics.RecordMerge(res.Added, res.Reinforced)
			e.metrics.RecordConsolidationError(memory.KindOf(err).String())
			return res, err
		case added:
			res.Added++
		default:
			res.Reinforced++
		}
	}

	e.metrics.RecordMerge(res.Added, res.Reinforced)
	e.metrics.SetPatterns(len(e.patterns))
	e.logger.Info("conversation consolidated",
		"conversation_id", conv.ID,
		"added", res.Added,
		"reinforced", res.Reinforced,
		"skipped", res.Skipped,
	)

	e.ingests++
	if e.pruneEvery > 0 && e.ingests%e.pruneEvery == 0 {
		pruned, err := e.pruneLocked(ctx)
		if err != nil {
			e.logger.Error("scheduled prune failed", "error", err)
		}
		res.Pruned = pruned.Signatures
	}
	return res, nil
}

func (e *Engine) markIngested(id string) {
	e.ingested[id] = struct{}{}
	e.ingestedOrder = append(e.ingestedOrder, id)
	if len(e.ingestedOrder) > ingestedWindow {
		delete(e.ingested, e.ingestedOrder[0])
		e.ingestedOrder = e.ingestedOrder[1:]
	}
}

// merge applies one candidate and reports whether it created a new pattern.
func (e *Engine) merge(ctx context.Context, conversationID string, c Candidate) (bool, error) {
	now := e.clock()

	var (
		next  memory.Pattern
		rop   rules.Operation
		added bool
	)
	if existing, ok := e.patterns[c.Signature]; ok {
		next = existing.Clone()
		next.Reinforce(c.Example, e.exampleLimit, now)
		rop = rules.OpReinforcePattern
	} else {
		next = memory.Pattern{
			ID:               uuid.NewString(),
			Signature:        c.Signature,
			Category:         c.Category,
			Confidence:       memory.InitialConfidence,
			ObservedCount:    1,
			LastReinforcedAt: now,
			CreatedAt:        now,
		}
		next.AddExample(c.Example, e.exampleLimit)
		rop = rules.OpInsertPattern
		added = true
	}

	if err := e.gate(string(rop), rules.Request{
		Op:             rop,
		ConversationID: conversationID,
		Pattern:        &next,
	}); err != nil {
		e.logger.Warn("pattern merge blocked",
			"signature", c.Signature,
			"conversation_id", conversationID,
			"error", err,
		)
		return false, err
	}

	if err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.driver.PutPattern(ctx, &next)
	}); err != nil {
		return false, &memory.Error{
			Kind:           memory.KindStorageUnavailable,
			Op:             string(rop),
			ConversationID: conversationID,
			Err:            fmt.Errorf("storing pattern %q: %w", c.Signature, err),
		}
	}

	e.patterns[c.Signature] = &next
	return added, nil
}

// Prune removes every pattern with too little support.
func (e *Engine) Prune(ctx context.Context) (PruneResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pruneLocked(ctx)
}

func (e *Engine) pruneLocked(ctx context.Context) (PruneResult, error) {
	const op = "prune"

	res := PruneResult{Signatures: []string{}}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for sig, p := range e.patterns {
		if p.Prunable() {
			res.Signatures = append(res.Signatures, sig)
		}
	}
	if len(res.Signatures) == 0 {
		return res, nil
	}
	slices.Sort(res.Signatures)

	if err := e.gate(op, rules.Request{
		Op:          rules.OpPrune,
		Description: fmt.Sprintf("prune %d weakly supported patterns", len(res.Signatures)),
	}); err != nil {
		return PruneResult{Signatures: []string{}}, err
	}

	if err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.driver.DeletePatterns(ctx, res.Signatures...)
	}); err != nil {
		return PruneResult{Signatures: []string{}}, &memory.Error{Kind: memory.KindStorageUnavailable, Op: op, Err: err}
	}

	for _, sig := range res.Signatures {
		delete(e.patterns, sig)
	}
	res.Removed = len(res.Signatures)

	e.metrics.RecordPrune(res.Removed)
	e.metrics.SetPatterns(len(e.patterns))
	e.logger.Info("patterns pruned", "removed", res.Removed, "remaining", len(e.patterns))
	return res, nil
}

// Query returns copies of the matching patterns ordered by confidence, then
// observation count, then signature.
func (e *Engine) Query(q Query) []memory.Pattern {
	text := strings.ToLower(strings.TrimSpace(q.Text))

	e.mu.RLock()
	out := make([]memory.Pattern, 0)
	for _, p := range e.patterns {
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		if q.Prefix != "" && !strings.HasPrefix(p.Signature, q.Prefix) {
			continue
		}
		if text != "" && !matchesText(p, text) {
			continue
		}
		out = append(out, p.Clone())
	}
	e.mu.RUnlock()

	slices.SortFunc(out, func(a, b memory.Pattern) int {
		return cmp.Or(
			cmp.Compare(b.Confidence, a.Confidence),
			cmp.Compare(b.ObservedCount, a.ObservedCount),
			cmp.Compare(a.Signature, b.Signature),
		)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Get returns a copy of the pattern with signature.
func (e *Engine) Get(signature string) (memory.Pattern, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.patterns[signature]
	if !ok {
		return memory.Pattern{}, false
	}
	return p.Clone(), true
}

// Len returns the number of registered patterns.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.patterns)
}

// ExampleLimit returns the configured example ring buffer size.
func (e *Engine) ExampleLimit() int {
	return e.exampleLimit
}

func (e *Engine) gate(op string, req rules.Request) error {
	req.Target = rules.TargetTier2
	req.Actor = actor
	req.Snapshot = rules.Snapshot{
		Patterns:     len(e.patterns),
		ExampleLimit: e.exampleLimit,
	}

	v := e.rules.Evaluate(req)
	e.metrics.RecordVerdict(string(req.Op), string(v.Decision))
	if v.Decision == rules.Warn {
		e.logger.Warn("rule warning",
			"op", op,
			"violations", v.Reasons(),
		)
	}
	return v.Err(op, req.ConversationID)
}

func matchesText(p *memory.Pattern, text string) bool {
	if strings.Contains(strings.ToLower(p.Signature), text) {
		return true
	}
	for _, ex := range p.Examples {
		if strings.Contains(strings.ToLower(ex), text) {
			return true
		}
	}
	return false
}

func checkConversation(conv memory.Conversation) error {
	switch {
	case conv.ID == "":
		return errors.New("conversation has no id")
	case len(conv.Messages) == 0:
		return errors.New("conversation has no messages")
	case conv.Consolidated:
		return errors.New("conversation was already consolidated")
	}
	for i, m := range conv.Messages {
		if m.ConversationID != "" && m.ConversationID != conv.ID {
			return fmt.Errorf("message %d belongs to conversation %s", i, m.ConversationID)
		}
		if m.Role != "" && !m.Role.Valid() {
			return fmt.Errorf("message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}
