// Package boundary decides whether an inbound message continues the active
// conversation or starts a new one.
//
// Decide is a pure function of its Input. Signals are checked in a fixed
// priority order and the first confident signal wins; there is no weighted
// blending between signals.
package boundary

import (
	"strings"
	"time"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Kind is the outcome of a boundary decision.
type Kind string

const (
	Continue  Kind = "continue"
	StartNew  Kind = "start_new"
	Ambiguous Kind = "ambiguous"
)

// Signal names the check that produced a Decision.
type Signal string

const (
	SignalNoActive       Signal = "no_active"
	SignalExplicitMarker Signal = "explicit_marker"
	SignalTimeGap        Signal = "time_gap"
	SignalEntityOverlap  Signal = "entity_overlap"
	SignalSessionState   Signal = "session_state"
	SignalCaller         Signal = "caller"
	SignalNone           Signal = "none"
)

const (
	// LongGap always starts a new conversation.
	LongGap = 4 * time.Hour

	// ShortGap always continues the active conversation.
	ShortGap = 15 * time.Minute

	// OverlapGap is the minimum idle time for low overlap to split.
	OverlapGap = time.Hour

	// SessionGap is the idle time after which a conversation with a
	// reported outcome is considered finished.
	SessionGap = 30 * time.Minute

	HighOverlap = 0.7
	LowOverlap  = 0.3

	// MaxWindow is the largest recent window consulted for overlap.
	MaxWindow = 5
)

// Marker is an explicit phrase announcing a topic change.
type Marker struct {
	Phrase     string
	Confidence float64
}

// Markers is the fixed marker phrase set in match priority order.
var Markers = []Marker{
	{Phrase: "new topic", Confidence: 0.99},
	{Phrase: "different question", Confidence: 0.98},
	{Phrase: "switching to", Confidence: 0.97},
	{Phrase: "unrelated, but", Confidence: 0.97},
	{Phrase: "let's move on", Confidence: 0.96},
	{Phrase: "moving on to", Confidence: 0.96},
	{Phrase: "actually, let's", Confidence: 0.95},
	{Phrase: "forget that", Confidence: 0.95},
	{Phrase: "start over", Confidence: 0.95},
}

// Input is everything a boundary decision may depend on.
type Input struct {
	// Text and Entities describe the inbound message.
	Text     string
	Entities []string

	// Active is the currently open conversation, nil when there is none.
	Active *memory.Conversation

	// Recent holds the last messages across the recent window, newest last.
	// Only the last MaxWindow entries are consulted.
	Recent []memory.Message

	// Elapsed is the wall-clock time since the last activity.
	Elapsed time.Duration
}

// Decision is the detector's verdict.
type Decision struct {
	Kind       Kind          `json:"kind"`
	Confidence float64       `json:"confidence"`
	Signal     Signal        `json:"signal"`
	Marker     string        `json:"marker,omitempty"`
	Overlap    float64       `json:"overlap"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Decide runs the boundary checks in priority order.
func Decide(in Input) Decision {
	d := Decision{Elapsed: in.Elapsed}

	if in.Active == nil {
		d.Kind, d.Confidence, d.Signal = StartNew, 1.0, SignalNoActive
		return d
	}

	if m, ok := MatchMarker(in.Text); ok {
		d.Kind, d.Confidence, d.Signal, d.Marker = StartNew, m.Confidence, SignalExplicitMarker, m.Phrase
		return d
	}

	switch {
	case in.Elapsed > LongGap:
		d.Kind, d.Confidence, d.Signal = StartNew, 0.90, SignalTimeGap
		return d
	case in.Elapsed < ShortGap:
		d.Kind, d.Confidence, d.Signal = Continue, 0.05, SignalTimeGap
		return d
	}

	d.Overlap = Overlap(in.Entities, in.Recent)
	switch {
	case d.Overlap > HighOverlap:
		d.Kind, d.Confidence, d.Signal = Continue, 0.85, SignalEntityOverlap
		return d
	case d.Overlap < LowOverlap && in.Elapsed > OverlapGap:
		d.Kind, d.Confidence, d.Signal = StartNew, 0.80, SignalEntityOverlap
		return d
	}

	if in.Active.Outcome != "" && in.Elapsed > SessionGap {
		d.Kind, d.Confidence, d.Signal = StartNew, 0.75, SignalSessionState
		return d
	}

	d.Kind, d.Confidence, d.Signal = Ambiguous, 0.50, SignalNone
	return d
}

// MatchMarker returns the first marker phrase contained in text, compared
// case-insensitively.
func MatchMarker(text string) (Marker, bool) {
	lower := strings.ToLower(text)
	for _, m := range Markers {
		if strings.Contains(lower, m.Phrase) {
			return m, true
		}
	}
	return Marker{}, false
}

// Overlap is the share of the new message's entities already seen in the
// recent window. An empty entity set scores 0.
func Overlap(entities []string, recent []memory.Message) float64 {
	if len(entities) == 0 {
		return 0
	}
	if len(recent) > MaxWindow {
		recent = recent[len(recent)-MaxWindow:]
	}

	seen := make(map[string]struct{})
	for _, m := range recent {
		for _, e := range m.Entities {
			seen[e] = struct{}{}
		}
	}

	distinct := make(map[string]struct{}, len(entities))
	shared := 0
	for _, e := range entities {
		if _, dup := distinct[e]; dup {
			continue
		}
		distinct[e] = struct{}{}
		if _, ok := seen[e]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(distinct))
}

// Resolved builds the Decision for a caller that answered a clarification
// prompt explicitly.
func Resolved(kind Kind, elapsed time.Duration) Decision {
	return Decision{Kind: kind, Confidence: 1.0, Signal: SignalCaller, Elapsed: elapsed}
}

// ClarificationPrompt is surfaced to the collaborator on an Ambiguous decision.
func ClarificationPrompt(active *memory.Conversation) string {
	if active == nil || active.Title == "" {
		return "Is this a continuation of the current conversation or a new topic?"
	}
	return "Is this still about \"" + active.Title + "\", or a new topic?"
}
