// Package nop provides the publisher used when no event stream is
// configured. Events are discarded but counted so callers can still see
// what would have been sent.
package nop

import (
	"context"
	"maps"
	"sync"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

// Publisher discards events.
type Publisher struct {
	mu     sync.Mutex
	counts map[string]int
	closed bool
}

func NewPublisher() *Publisher {
	return &Publisher{counts: make(map[string]int)}
}

// Publish counts event under its type.
func (p *Publisher) Publish(_ context.Context, event *eventstream.Event) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return eventstream.ErrClosed
	}
	p.counts[event.EventType]++
	return nil
}

// Counts returns the number of discarded events per event type.
func (p *Publisher) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.counts)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
