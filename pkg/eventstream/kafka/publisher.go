// Package kafka publishes engram events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

const defaultBatchTimeout = 10 * time.Millisecond

// Config is the configuration for a Kafka publisher.
type Config struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string

	// Topic receives every event.
	Topic string

	// BatchTimeout bounds how long the writer waits to fill a batch.
	BatchTimeout time.Duration

	// Logger is the configured logger
	Logger *slog.Logger
}

// Publisher writes events as JSON messages keyed by Event.Key.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka publisher. No connection is made until the
// first Publish.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if c.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = defaultBatchTimeout
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(c.Brokers...),
			Topic:                  c.Topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			BatchTimeout:           c.BatchTimeout,
			AllowAutoTopicCreation: true,
		},
		logger: c.Logger,
	}, nil
}

// Publish writes event to the topic.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.Event) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	msg, err := Message(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s: %w", event.EventType, err)
	}

	p.logger.Debug("event published",
		"event_type", event.EventType,
		"event_id", event.EventID,
		"topic", p.writer.Topic,
	)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Message encodes event as a Kafka message.
func Message(event *eventstream.Event) (kafkago.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encoding event: %w", err)
	}

	return kafkago.Message{
		Key:   []byte(event.Key()),
		Value: payload,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: fmt.Appendf(nil, "%d", event.SchemaVersion)},
		},
	}, nil
}
