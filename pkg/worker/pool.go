// Package worker provides an asynchronous worker pool that consolidates
// evicted conversations into the pattern registry.
//
// The pool decouples consolidation from the eviction path so that starting a
// new conversation never waits on Tier-2 work.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/metrics"
)

var (
	defaultNumWorkers   uint = 1
	defaultJobQueueSize uint = 256
)

// Ingester merges an evicted conversation into the pattern registry.
type Ingester interface {
	Ingest(ctx context.Context, conv memory.Conversation) (consolidation.Result, error)
}

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Conversation memory.Conversation
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Ingester consolidates each job. Required.
	Ingester Ingester

	// Publisher receives consolidation and prune events. Optional.
	Publisher eventstream.Publisher

	// Metrics is optional.
	Metrics *metrics.Metrics

	// NumWorkers is the number of background workers in the pool (defaults to 1).
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the configured logger
	Logger *slog.Logger
}

// Pool processes consolidation jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Ingester == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	if c.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the job being dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Error("job not queued, pool closed, job dropped",
			"conversation_id", job.Conversation.ID,
		)
		p.config.Metrics.RecordDropped()
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			"conversation_id", job.Conversation.ID,
			"messages", len(job.Conversation.Messages),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"conversation_id", job.Conversation.ID,
		)
		p.config.Metrics.RecordDropped()
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("consolidation worker stopped", "worker_id", id)
}

// processJob consolidates one conversation and publishes the outcome. Failures
// are logged; the conversation's learning contribution is lost but eviction
// has already completed.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	res, err := p.config.Ingester.Ingest(ctx, job.Conversation)
	if err != nil {
		if memory.IsKind(err, memory.KindMalformedInput) {
			p.logger.Warn("consolidation skipped malformed conversation",
				"conversation_id", job.Conversation.ID,
				"error", err,
			)
			return
		}
		p.logger.Error("async consolidation failed",
			"conversation_id", job.Conversation.ID,
			"added", res.Added,
			"reinforced", res.Reinforced,
			"error", err,
		)
		return
	}

	Publish(ctx, p.config.Publisher, p.logger, res, time.Now())
}

// Publish emits the events describing res. Publishing failures are logged and
// never returned.
func Publish(ctx context.Context, pub eventstream.Publisher, logger *slog.Logger, res consolidation.Result, now time.Time) {
	if pub == nil {
		return
	}

	events := []*eventstream.Event{
		eventstream.NewConsolidationEvent(res.ConversationID, res.Added, res.Reinforced, res.Skipped, now),
	}
	if len(res.Pruned) > 0 {
		events = append(events, eventstream.NewPruneEvent(res.Pruned, now))
	}

	for _, e := range events {
		if err := pub.Publish(ctx, e); err != nil {
			logger.Warn("publishing event failed",
				"event_type", e.EventType,
				"error", err,
			)
		}
	}
}
