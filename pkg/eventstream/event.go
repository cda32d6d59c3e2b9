package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/memory"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeConversationEvicted is emitted when a conversation leaves Tier-1.
	EventTypeConversationEvicted = "engram.conversation.evicted"

	// EventTypePatternsConsolidated is emitted after an evicted conversation
	// has been merged into the pattern registry.
	EventTypePatternsConsolidated = "engram.patterns.consolidated"

	// EventTypePatternsPruned is emitted after a pruning sweep removed patterns.
	EventTypePatternsPruned = "engram.patterns.pruned"
)

// Event is a transport-neutral event envelope. Exactly one payload is set,
// matching EventType.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	Eviction      *EvictionPayload      `json:"eviction,omitempty"`
	Consolidation *ConsolidationPayload `json:"consolidation,omitempty"`
	Prune         *PrunePayload         `json:"prune,omitempty"`
}

// EvictionPayload summarizes an evicted conversation. It carries metadata
// only; message text stays inside the process.
type EvictionPayload struct {
	ConversationID string         `json:"conversation_id"`
	Title          string         `json:"title"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	Outcome        memory.Outcome `json:"outcome,omitempty"`
	MessageCount   int            `json:"message_count"`
	Entities       []string       `json:"entities"`
	FilesTouched   []string       `json:"files_touched"`
	ClosingMarker  string         `json:"closing_marker,omitempty"`
}

// ConsolidationPayload reports the result of one ingest.
type ConsolidationPayload struct {
	ConversationID string `json:"conversation_id"`
	Added          int    `json:"added"`
	Reinforced     int    `json:"reinforced"`
	Skipped        int    `json:"skipped"`
}

// PrunePayload reports a pruning sweep.
type PrunePayload struct {
	Removed    int      `json:"removed"`
	Signatures []string `json:"signatures"`
}

// Key returns the partitioning key for the event.
func (e *Event) Key() string {
	switch {
	case e.Eviction != nil:
		return e.Eviction.ConversationID
	case e.Consolidation != nil:
		return e.Consolidation.ConversationID
	default:
		return e.EventType
	}
}

func newEvent(eventType string, now time.Time) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     now.UTC(),
	}
}

// NewEvictionEvent builds the event for an evicted conversation.
func NewEvictionEvent(c *memory.Conversation, now time.Time) *Event {
	e := newEvent(EventTypeConversationEvicted, now)
	e.Eviction = &EvictionPayload{
		ConversationID: c.ID,
		Title:          c.Title,
		StartedAt:      c.StartedAt,
		EndedAt:        c.EndedAt,
		Outcome:        c.Outcome,
		MessageCount:   len(c.Messages),
		Entities:       c.Entities,
		FilesTouched:   c.FilesTouched,
		ClosingMarker:  c.ClosingMarker,
	}
	return e
}

// NewConsolidationEvent builds the event for a finished ingest.
func NewConsolidationEvent(conversationID string, added, reinforced, skipped int, now time.Time) *Event {
	e := newEvent(EventTypePatternsConsolidated, now)
	e.Consolidation = &ConsolidationPayload{
		ConversationID: conversationID,
		Added:          added,
		Reinforced:     reinforced,
		Skipped:        skipped,
	}
	return e
}

// NewPruneEvent builds the event for a pruning sweep.
func NewPruneEvent(signatures []string, now time.Time) *Event {
	e := newEvent(EventTypePatternsPruned, now)
	e.Prune = &PrunePayload{Removed: len(signatures), Signatures: signatures}
	return e
}
