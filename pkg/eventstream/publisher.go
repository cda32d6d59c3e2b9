// Package eventstream publishes memory lifecycle events (evictions,
// consolidations, pruning sweeps) to an event stream backend.
package eventstream

import "context"

// Publisher publishes events to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}
