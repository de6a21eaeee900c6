// Package kafka consumes change feeds from Kafka topics using
// github.com/segmentio/kafka-go.
//
// Each topic carries one entity's feed. Message values are encoded rows
// (JSON by default) holding the key, sequence and operation columns the
// entity config names. The consumer accumulates messages into
// micro-batches, hands them to the engine, and commits consumer offsets
// only after the batch commit succeeds, so a crash replays events the
// watermark check then drops.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mergetide/go-scd"
	"github.com/mergetide/go-scd/codec"
	kafkago "github.com/segmentio/kafka-go"
)

// BatchHandler receives decoded micro-batches. The engine's ProcessBatch
// satisfies it.
type BatchHandler interface {
	ProcessBatch(ctx context.Context, entity string, events []scd.ChangeEvent) (*scd.BatchResult, error)
}

// Consumer reads one entity's change feed from a Kafka topic.
type Consumer struct {
	reader    *kafkago.Reader
	entity    scd.EntityConfig
	codec     codec.RowCodec
	logger    scd.Logger
	batchSize int
	maxWait   time.Duration
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithCodec sets the row codec. Defaults to JSON.
func WithCodec(c codec.RowCodec) Option {
	return func(co *Consumer) {
		co.codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l scd.Logger) Option {
	return func(co *Consumer) {
		co.logger = l
	}
}

// WithBatchSize sets the maximum events per micro-batch.
func WithBatchSize(n int) Option {
	return func(co *Consumer) {
		if n > 0 {
			co.batchSize = n
		}
	}
}

// WithMaxWait sets how long a partial batch waits before being flushed.
func WithMaxWait(d time.Duration) Option {
	return func(co *Consumer) {
		if d > 0 {
			co.maxWait = d
		}
	}
}

// NewConsumer creates a consumer for one entity's topic.
func NewConsumer(brokers []string, topic, groupID string, entity scd.EntityConfig, opts ...Option) (*Consumer, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}
	c := &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		entity:    entity,
		codec:     codec.NewJSONCodec(),
		logger:    scd.NewNoopLogger(),
		batchSize: 500,
		maxWait:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run consumes the topic until the context is canceled, feeding
// micro-batches to the handler. Undecodable messages are logged and
// skipped rather than wedging the partition.
func (c *Consumer) Run(ctx context.Context, handler BatchHandler) error {
	for {
		events, last, err := c.nextBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if len(events) == 0 {
			continue
		}

		result, err := handler.ProcessBatch(ctx, c.entity.Name, events)
		if err != nil {
			return fmt.Errorf("scd/kafka: batch for topic %s failed: %w", c.reader.Config().Topic, err)
		}
		for _, conflict := range result.Conflicts {
			c.logger.Warn("duplicate sequence in feed",
				"entity", conflict.Entity, "key", conflict.Key, "sequence", conflict.Sequence)
		}

		if err := c.reader.CommitMessages(ctx, last); err != nil {
			return fmt.Errorf("scd/kafka: failed to commit offsets: %w", err)
		}
	}
}

// nextBatch accumulates up to batchSize events, waiting at most maxWait
// after the first message.
func (c *Consumer) nextBatch(ctx context.Context) ([]scd.ChangeEvent, kafkago.Message, error) {
	var events []scd.ChangeEvent
	var last kafkago.Message
	var arrival int64

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, last, err
	}
	if ev, ok := c.decode(msg, &arrival); ok {
		events = append(events, ev)
	}
	last = msg

	deadline, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()
	for len(events) < c.batchSize {
		msg, err := c.reader.FetchMessage(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return nil, last, err
		}
		if ev, ok := c.decode(msg, &arrival); ok {
			events = append(events, ev)
		}
		last = msg
	}
	return events, last, nil
}

func (c *Consumer) decode(msg kafkago.Message, arrival *int64) (scd.ChangeEvent, bool) {
	row, err := c.codec.Decode(msg.Value)
	if err != nil {
		c.logger.Error("skipping undecodable message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return scd.ChangeEvent{}, false
	}
	ev, err := c.entity.EventFromRow(row)
	if err != nil {
		c.logger.Error("skipping malformed change row",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return scd.ChangeEvent{}, false
	}
	ev.Arrival = *arrival
	*arrival++
	return ev, true
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
