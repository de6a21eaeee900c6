// Package kafka publishes applied-change notifications to a Kafka topic
// using github.com/segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mergetide/go-scd"
	kafkago "github.com/segmentio/kafka-go"
)

// Notifier publishes applied changes to one Kafka topic, keyed by
// entity key so downstream consumers see each key's changes in order.
type Notifier struct {
	writer *kafkago.Writer
}

// Option configures a Notifier.
type Option func(*kafkago.Writer)

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(w *kafkago.Writer) {
		w.Balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(w *kafkago.Writer) {
		w.BatchTimeout = d
	}
}

// New creates a Kafka notifier writing to the given topic.
func New(brokers []string, topic string, opts ...Option) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &Notifier{writer: w}
}

var _ scd.Notifier = (*Notifier)(nil)

// Notify publishes one message per applied change.
func (n *Notifier) Notify(ctx context.Context, changes []scd.AppliedChange) error {
	if len(changes) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, 0, len(changes))
	for _, ch := range changes {
		payload, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("scd/kafka: failed to marshal change for key %q: %w", ch.Key, err)
		}
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(ch.Entity + "/" + ch.Key),
			Value: payload,
			Headers: []kafkago.Header{
				{Key: "entity", Value: []byte(ch.Entity)},
				{Key: "operation", Value: []byte(ch.Op.String())},
			},
		})
	}

	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("scd/kafka: failed to publish changes: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}
