// Package engram is the public surface of the memory subsystem. A Memory
// composes boundary detection, the Tier-1 conversation store, the Tier-2
// consolidation engine and the rule engine behind a small API for agents and
// routers.
package engram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/boundary"
	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/conversation"
	"github.com/papercomputeco/engram/pkg/entity"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/metrics"
	"github.com/papercomputeco/engram/pkg/retry"
	"github.com/papercomputeco/engram/pkg/rules"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/worker"
)

// Resolution is a collaborator's answer to a clarification prompt.
type Resolution string

const (
	ResolveNone     Resolution = ""
	ResolveContinue Resolution = "continue"
	ResolveNew      Resolution = "new"
)

// Metadata accompanies a recorded message.
type Metadata struct {
	// Role defaults to memory.RoleUser.
	Role memory.Role `json:"role,omitempty"`

	// Timestamp defaults to the current time.
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Files are merged into the touched-file set of the receiving
	// conversation.
	Files []string `json:"files,omitempty"`

	// Resolve overrides boundary detection after an ambiguous decision.
	Resolve Resolution `json:"resolve,omitempty"`
}

// Recorded is the result of RecordMessage.
type Recorded struct {
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id,omitempty"`
	Decision       boundary.Decision `json:"decision"`

	// NeedsClarification is set on an ambiguous decision. Nothing was
	// recorded; resubmit the message with Metadata.Resolve.
	NeedsClarification bool   `json:"needs_clarification"`
	Prompt             string `json:"prompt,omitempty"`
}

// Config is the configuration for a Memory.
type Config struct {
	// Driver persists both tiers. Required.
	Driver storage.Driver

	// Rules defaults to rules.NewDefaultEngine.
	Rules *rules.Engine

	MaxConversations int
	RecentWindow     int
	ExampleLimit     int
	PruneEvery       int

	// AsyncConsolidation hands evicted conversations to a worker pool instead
	// of consolidating them before RecordMessage returns.
	AsyncConsolidation bool
	Workers            uint
	QueueSize          uint

	Retry retry.Config

	// Publisher defaults to a no-op publisher.
	Publisher eventstream.Publisher

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Logger is the configured logger
	Logger *slog.Logger
}

// Memory is the memory facade. RecordMessage runs its read-decide-apply
// sequence under a single lock; reads go straight to the underlying stores.
type Memory struct {
	mu sync.Mutex

	conversations *conversation.Store
	patterns      *consolidation.Engine
	rules         *rules.Engine
	pool          *worker.Pool

	// evicted collects conversations evicted during the current mutation.
	evicted []memory.Conversation

	driver       storage.Driver
	publisher    eventstream.Publisher
	metrics      *metrics.Metrics
	recentWindow int
	clock        func() time.Time
	logger       *slog.Logger
}

// New wires a Memory and recovers both tiers from the driver.
func New(ctx context.Context, c Config) (*Memory, error) {
	if c.Driver == nil {
		return nil, errors.New("driver is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if c.Rules == nil {
		c.Rules = rules.NewDefaultEngine()
	}
	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}
	if c.RecentWindow <= 0 || c.RecentWindow > boundary.MaxWindow {
		c.RecentWindow = boundary.MaxWindow
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	m := &Memory{
		rules:        c.Rules,
		driver:       c.Driver,
		publisher:    c.Publisher,
		metrics:      c.Metrics,
		recentWindow: c.RecentWindow,
		clock:        c.Clock,
		logger:       c.Logger,
	}

	var err error
	m.patterns, err = consolidation.New(ctx, consolidation.Config{
		Driver:       c.Driver,
		Rules:        c.Rules,
		ExampleLimit: c.ExampleLimit,
		PruneEvery:   c.PruneEvery,
		Retry:        c.Retry,
		Metrics:      c.Metrics,
		Clock:        c.Clock,
		Logger:       c.Logger.With("component", "consolidation"),
	})
	if err != nil {
		return nil, fmt.Errorf("loading pattern registry: %w", err)
	}

	m.conversations, err = conversation.New(ctx, conversation.Config{
		Driver:           c.Driver,
		Rules:            c.Rules,
		MaxConversations: c.MaxConversations,
		Retry:            c.Retry,
		OnEvict:          m.collectEvicted,
		Metrics:          c.Metrics,
		Clock:            c.Clock,
		Logger:           c.Logger.With("component", "conversations"),
	})
	if err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}

	if c.AsyncConsolidation {
		m.pool, err = worker.NewPool(&worker.Config{
			Ingester:   m.patterns,
			Publisher:  c.Publisher,
			Metrics:    c.Metrics,
			NumWorkers: c.Workers,
			QueueSize:  c.QueueSize,
			Logger:     c.Logger.With("component", "worker"),
		})
		if err != nil {
			return nil, fmt.Errorf("starting consolidation workers: %w", err)
		}
	}

	return m, nil
}

// RecordMessage routes text into the active conversation or a new one,
// depending on the boundary decision. An ambiguous decision records nothing
// and asks the caller for clarification.
func (m *Memory) RecordMessage(ctx context.Context, text string, meta Metadata) (Recorded, error) {
	const op = "record_message"

	switch meta.Resolve {
	case ResolveNone, ResolveContinue, ResolveNew:
	default:
		return Recorded{}, &memory.Error{
			Kind: memory.KindMalformedInput,
			Op:   op,
			Err:  fmt.Errorf("unknown resolution %q", meta.Resolve),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts := meta.Timestamp
	if ts.IsZero() {
		ts = m.clock()
	}
	msg := memory.Message{
		Timestamp: ts,
		Role:      meta.Role,
		Text:      text,
		Entities:  entity.Values(entity.Extract(text)),
	}

	active, hasActive := m.conversations.Active()
	decision := m.decide(msg, active, hasActive, meta.Resolve)
	m.metrics.RecordBoundary(string(decision.Kind), string(decision.Signal))
	m.logger.Debug("boundary decision",
		"kind", decision.Kind,
		"signal", decision.Signal,
		"confidence", decision.Confidence,
		"overlap", decision.Overlap,
		"elapsed", decision.Elapsed,
	)

	out := Recorded{Decision: decision}
	switch decision.Kind {
	case boundary.Ambiguous:
		out.ConversationID = active.ID
		out.NeedsClarification = true
		out.Prompt = boundary.ClarificationPrompt(&active)
		return out, nil

	case boundary.Continue:
		appended, err := m.conversations.Append(ctx, active.ID, msg)
		if err != nil {
			return out, err
		}
		out.ConversationID = active.ID
		out.MessageID = appended.ID

	default:
		var opts []conversation.StartOption
		if hasActive {
			opts = append(opts, conversation.WithCloseActive(decision.Marker))
		}
		id, err := m.conversations.StartNew(ctx, msg, opts...)
		m.flushEvicted(ctx)
		if err != nil {
			return out, err
		}
		out.ConversationID = id
		if conv, ok := m.conversations.Get(id); ok && len(conv.Messages) > 0 {
			out.MessageID = conv.Messages[0].ID
		}
	}

	if len(meta.Files) > 0 {
		if err := m.conversations.AddFiles(ctx, out.ConversationID, meta.Files...); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (m *Memory) decide(msg memory.Message, active memory.Conversation, hasActive bool, resolve Resolution) boundary.Decision {
	if !hasActive {
		return boundary.Decide(boundary.Input{Text: msg.Text, Entities: msg.Entities})
	}

	elapsed := max(msg.Timestamp.Sub(active.LastActivity()), 0)
	switch resolve {
	case ResolveContinue:
		return boundary.Resolved(boundary.Continue, elapsed)
	case ResolveNew:
		return boundary.Resolved(boundary.StartNew, elapsed)
	}

	return boundary.Decide(boundary.Input{
		Text:     msg.Text,
		Entities: msg.Entities,
		Active:   &active,
		Recent:   m.conversations.RecentMessages(m.recentWindow),
		Elapsed:  elapsed,
	})
}

// CloseConversation ends the conversation with outcome.
func (m *Memory) CloseConversation(ctx context.Context, conversationID string, outcome memory.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations.End(ctx, conversationID, outcome)
}

// ReportOutcome records the outcome of an open conversation without closing
// it.
func (m *Memory) ReportOutcome(ctx context.Context, conversationID string, outcome memory.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations.SetOutcome(ctx, conversationID, outcome)
}

// ReportFiles merges files into the touched-file set of an open conversation.
func (m *Memory) ReportFiles(ctx context.Context, conversationID string, files ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations.AddFiles(ctx, conversationID, files...)
}

// RecentConversations returns the n most recently started conversations,
// oldest first.
func (m *Memory) RecentConversations(n int) []memory.Conversation {
	return m.conversations.Recent(n)
}

// Conversation returns the retained conversation with id.
func (m *Memory) Conversation(id string) (memory.Conversation, bool) {
	return m.conversations.Get(id)
}

// ActiveConversation returns the open conversation, if any.
func (m *Memory) ActiveConversation() (memory.Conversation, bool) {
	return m.conversations.Active()
}

// SearchPatterns returns patterns whose signature or examples contain query,
// optionally restricted to category, best supported first.
func (m *Memory) SearchPatterns(query string, category memory.Category, limit int) []memory.Pattern {
	return m.patterns.Query(consolidation.Query{Text: query, Category: category, Limit: limit})
}

// QueryPatterns exposes the full pattern query.
func (m *Memory) QueryPatterns(q consolidation.Query) []memory.Pattern {
	return m.patterns.Query(q)
}

// ValidateMutation evaluates req against the rule engine using the current
// state of both tiers.
func (m *Memory) ValidateMutation(req rules.Request) rules.Verdict {
	snap := m.conversations.Snapshot()
	snap.Patterns = m.patterns.Len()
	snap.ExampleLimit = m.patterns.ExampleLimit()
	req.Snapshot = snap

	v := m.rules.Evaluate(req)
	m.metrics.RecordVerdict(string(req.Op), string(v.Decision))
	if v.Decision != rules.Allow {
		m.logger.Info("mutation pre-flight",
			"op", req.Op,
			"target", req.Target,
			"actor", req.Actor,
			"decision", v.Decision,
			"violations", v.Reasons(),
		)
	}
	return v
}

// Prune runs a pruning sweep over the pattern registry.
func (m *Memory) Prune(ctx context.Context) (consolidation.PruneResult, error) {
	res, err := m.patterns.Prune(ctx)
	if err != nil {
		return res, err
	}
	if res.Removed > 0 {
		m.publish(ctx, eventstream.NewPruneEvent(res.Signatures, m.clock()))
	}
	return res, nil
}

// Rules returns the rule set in evaluation order.
func (m *Memory) Rules() []rules.Rule {
	return m.rules.Rules()
}

// Close drains pending consolidation and releases the publisher and storage.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool != nil {
		m.pool.Close()
	}
	return errors.Join(m.publisher.Close(), m.driver.Close())
}

// collectEvicted runs under the conversation store's writer lock.
func (m *Memory) collectEvicted(conv memory.Conversation) {
	m.evicted = append(m.evicted, conv)
}

// flushEvicted announces and consolidates the conversations evicted by the
// last mutation. Consolidation failures are logged and never returned.
func (m *Memory) flushEvicted(ctx context.Context) {
	evicted := m.evicted
	m.evicted = nil

	for _, conv := range evicted {
		m.publish(ctx, eventstream.NewEvictionEvent(&conv, m.clock()))

		if m.pool != nil {
			m.pool.Enqueue(worker.Job{Conversation: conv})
			continue
		}

		res, err := m.patterns.Ingest(ctx, conv)
		if err != nil {
			m.logger.Error("consolidation failed",
				"conversation_id", conv.ID,
				"error", err,
			)
			continue
		}
		worker.Publish(ctx, m.publisher, m.logger, res, m.clock())
	}
}

func (m *Memory) publish(ctx context.Context, e *eventstream.Event) {
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.Warn("publishing event failed",
			"event_type", e.EventType,
			"error", err,
		)
	}
}
