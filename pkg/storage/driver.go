// Package storage defines the persistence contract for both memory tiers.
//
// Implementations must make every method atomic: a failed call leaves the
// backend exactly as it was. Recovery after a restart is a Load of each tier.
package storage

import (
	"context"

	"github.com/papercomputeco/engram/pkg/memory"
)

// ConversationDriver persists Tier-1 conversations.
type ConversationDriver interface {
	// LoadConversations returns every retained conversation ordered by
	// start time, each with its messages in append order.
	LoadConversations(ctx context.Context) ([]memory.Conversation, error)

	// SaveConversation upserts conv with its full message list and removes
	// the evicted conversations in the same transaction.
	SaveConversation(ctx context.Context, conv *memory.Conversation, evicted ...string) error

	// RolloverConversation saves ended (when non-nil), removes the evicted
	// conversations and inserts started, all in one transaction.
	RolloverConversation(ctx context.Context, ended, started *memory.Conversation, evicted ...string) error

	// AppendMessage inserts msg and updates the header of its owning
	// conversation in the same transaction. conv already holds msg as its
	// last message.
	AppendMessage(ctx context.Context, conv *memory.Conversation, msg memory.Message) error
}

// PatternDriver persists the Tier-2 pattern registry.
type PatternDriver interface {
	// LoadPatterns returns every stored pattern.
	LoadPatterns(ctx context.Context) ([]memory.Pattern, error)

	// PutPattern upserts a pattern keyed by its signature.
	PutPattern(ctx context.Context, p *memory.Pattern) error

	// DeletePatterns removes the patterns with the given signatures.
	DeletePatterns(ctx context.Context, signatures ...string) error
}

// Driver is a backend for both tiers.
type Driver interface {
	ConversationDriver
	PatternDriver

	// Close releases backend resources.
	Close() error
}
