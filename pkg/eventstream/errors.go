package eventstream

import "errors"

var (
	// ErrNilEvent indicates a nil event was passed to a publisher.
	ErrNilEvent = errors.New("nil event")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("publisher closed")
)
