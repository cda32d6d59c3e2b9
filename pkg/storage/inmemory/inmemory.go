// Package inmemory provides a non-durable storage.Driver. It is used in tests
// and when the caller explicitly opts into memory-only mode.
package inmemory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/storage"
)

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// mu is a read write sync mutex for locking the maps below
	mu sync.RWMutex

	// conversations is keyed by conversation id
	conversations map[string]memory.Conversation

	// patterns is keyed by signature
	patterns map[string]memory.Pattern
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		conversations: make(map[string]memory.Conversation),
		patterns:      make(map[string]memory.Pattern),
	}
}

// LoadConversations implements storage.ConversationDriver.
func (d *Driver) LoadConversations(_ context.Context) ([]memory.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]memory.Conversation, 0, len(d.conversations))
	for _, c := range d.conversations {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b memory.Conversation) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// SaveConversation implements storage.ConversationDriver.
func (d *Driver) SaveConversation(_ context.Context, conv *memory.Conversation, evicted ...string) error {
	if conv == nil {
		return errors.New("cannot save nil conversation")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range evicted {
		delete(d.conversations, id)
	}
	d.conversations[conv.ID] = conv.Clone()
	return nil
}

// RolloverConversation implements storage.ConversationDriver.
func (d *Driver) RolloverConversation(_ context.Context, ended, started *memory.Conversation, evicted ...string) error {
	if started == nil {
		return errors.New("cannot save nil conversation")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if ended != nil {
		d.conversations[ended.ID] = ended.Clone()
	}
	for _, id := range evicted {
		delete(d.conversations, id)
	}
	d.conversations[started.ID] = started.Clone()
	return nil
}

// AppendMessage implements storage.ConversationDriver.
func (d *Driver) AppendMessage(_ context.Context, conv *memory.Conversation, _ memory.Message) error {
	if conv == nil {
		return errors.New("cannot append to nil conversation")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.conversations[conv.ID]; !ok {
		return storage.NotFoundError{ID: conv.ID}
	}
	d.conversations[conv.ID] = conv.Clone()
	return nil
}

// LoadPatterns implements storage.PatternDriver.
func (d *Driver) LoadPatterns(_ context.Context) ([]memory.Pattern, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]memory.Pattern, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b memory.Pattern) int {
		switch {
		case a.Signature < b.Signature:
			return -1
		case a.Signature > b.Signature:
			return 1
		}
		return 0
	})
	return out, nil
}

// PutPattern implements storage.PatternDriver.
func (d *Driver) PutPattern(_ context.Context, p *memory.Pattern) error {
	if p == nil {
		return errors.New("cannot store nil pattern")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.patterns[p.Signature] = p.Clone()
	return nil
}

// DeletePatterns implements storage.PatternDriver.
func (d *Driver) DeletePatterns(_ context.Context, signatures ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sig := range signatures {
		delete(d.patterns, sig)
	}
	return nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}
