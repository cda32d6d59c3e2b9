// Package memory defines the records shared by every tier of the engram
// memory subsystem.
//
// Tier-1 holds whole Conversations (raw messages, bounded FIFO window).
// Tier-2 holds Patterns: generalized, confidence-scored templates learned
// from Conversations at the moment they leave Tier-1. Whole conversations
// never cross into Tier-2 (patterns keep only short example snippets) and
// derived pattern data never flows back into Tier-1.
package memory

import (
	"slices"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSystem
}

// Outcome is the reported result of a Conversation. The zero value means no
// outcome has been reported yet.
type Outcome string

const (
	OutcomePlanned     Outcome = "planned"
	OutcomeImplemented Outcome = "implemented"
	OutcomeTested      Outcome = "tested"
	OutcomeAbandoned   Outcome = "abandoned"
	OutcomeUnknown     Outcome = "unknown"
)

// Outcomes returns every reportable outcome in lifecycle order.
func Outcomes() []Outcome {
	return []Outcome{OutcomePlanned, OutcomeImplemented, OutcomeTested, OutcomeAbandoned, OutcomeUnknown}
}

// ParseOutcome parses s into an Outcome.
func ParseOutcome(s string) (Outcome, bool) {
	o := Outcome(s)
	if slices.Contains(Outcomes(), o) {
		return o, true
	}
	return "", false
}

// Message is a single inbound utterance owned by exactly one Conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Entities       []string  `json:"entities,omitempty"`
}

// Conversation is one logical unit of work: an ordered run of messages with a
// start, an optional end and derived metadata.
type Conversation struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Messages     []Message  `json:"messages"`
	Entities     []string   `json:"entities_discussed"`
	FilesTouched []string   `json:"files_touched"`
	Outcome      Outcome    `json:"outcome,omitempty"`
	Active       bool       `json:"active"`

	// Consolidated is bookkeeping set once the conversation has been handed
	// to the consolidation engine.
	Consolidated bool `json:"consolidated"`

	// ClosingMarker is the explicit boundary phrase that ended this
	// conversation, if any.
	ClosingMarker string `json:"closing_marker,omitempty"`
}

// Ended reports whether the conversation has been closed.
func (c *Conversation) Ended() bool {
	return c.EndedAt != nil
}

// LastActivity returns the timestamp of the newest message, falling back to
// the start time for an empty conversation.
func (c *Conversation) LastActivity() time.Time {
	if n := len(c.Messages); n > 0 {
		return c.Messages[n-1].Timestamp
	}
	return c.StartedAt
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() Conversation {
	out := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Entities = slices.Clone(m.Entities)
		out.Messages[i] = m
	}
	out.Entities = slices.Clone(c.Entities)
	out.FilesTouched = slices.Clone(c.FilesTouched)
	return out
}

// AddEntities merges values into the conversation's entity set. The set is
// kept sorted so that equal sets compare equal.
func (c *Conversation) AddEntities(values ...string) {
	c.Entities = mergeSet(c.Entities, values)
}

// AddFiles merges paths into the conversation's touched-file set.
func (c *Conversation) AddFiles(paths ...string) {
	c.FilesTouched = mergeSet(c.FilesTouched, paths)
}

func mergeSet(set []string, values []string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		i, found := slices.BinarySearch(set, v)
		if !found {
			set = slices.Insert(set, i, v)
		}
	}
	return set
}
