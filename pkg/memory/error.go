package memory

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the memory subsystem.
type ErrorKind int

const (
	// KindUnknown is the zero value and never produced deliberately.
	KindUnknown ErrorKind = iota

	// KindInvalidState is an operation on a conversation in the wrong
	// lifecycle stage.
	KindInvalidState

	// KindStorageUnavailable is a persistence failure that survived a retry.
	KindStorageUnavailable

	// KindRuleViolation is a BLOCK verdict from the rule engine.
	KindRuleViolation

	// KindMalformedInput is an unparseable message or conversation.
	KindMalformedInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidState:
		return "InvalidState"
	case KindStorageUnavailable:
		return "StorageUnavailable"
	case KindRuleViolation:
		return "RuleViolation"
	case KindMalformedInput:
		return "MalformedInput"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every engram component.
type Error struct {
	Kind ErrorKind

	// Op is the operation that failed, e.g. "append".
	Op string

	// ConversationID is set when the failure concerns one conversation.
	ConversationID string

	// Reasons and Alternatives are populated for rule violations.
	Reasons      []string
	Alternatives []string

	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ConversationID != "" {
		msg += fmt.Sprintf(" (conversation %s)", e.ConversationID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ErrNotConfigured is returned when an operation needs a component that was
// not configured.
var ErrNotConfigured = errors.New("memory not configured")
