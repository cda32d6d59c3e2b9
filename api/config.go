// Package api provides an HTTP API server for recording conversations into
// engram memory and querying both memory tiers.
package api

import "github.com/papercomputeco/engram/pkg/metrics"

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8082")
	ListenAddr string

	// Metrics is served on /metrics when set.
	Metrics *metrics.Metrics

	// DisableMCP leaves the /mcp endpoint unmounted.
	DisableMCP bool
}
