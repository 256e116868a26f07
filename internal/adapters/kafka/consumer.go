package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"chainintel/pkg/logger"
)

// reader is the subset of *kafka.Reader in use
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic with at-least-once delivery: the offset is committed
// only after the handler returned. Redelivered messages are absorbed by the
// event status store.
type Consumer struct {
	reader     reader
	topic      string
	retryPause time.Duration
	log        *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// NewConsumer creates a consumer group member for cfg.Topic
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6 // 10MB
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	c := newConsumer(r, cfg.Topic, logger.Get())
	c.log.Infow("Kafka consumer created", "brokers", cfg.Brokers, "group_id", cfg.GroupID)
	return c
}

func newConsumer(r reader, topic string, log *logger.Logger) *Consumer {
	return &Consumer{
		reader:     r,
		topic:      topic,
		retryPause: time.Second,
		log:        log.With("component", "kafka_consumer", "topic", topic),
	}
}

// MessageHandler processes one message. A returned error is logged and the
// offset still advances; failed events are retried from the status store.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consume reads until ctx is cancelled and returns nil on shutdown.
// A message whose handler was interrupted by shutdown is left uncommitted.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.log.Info("Starting consumer...")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumer stopped")
				return nil
			}
			c.log.Errorw("Failed to fetch message", "error", err)
			if !c.pause(ctx) {
				return nil
			}
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.log.Errorw("Failed to handle message",
				"key", string(msg.Key),
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
		if ctx.Err() != nil {
			c.log.Infow("Consumer stopped before commit", "partition", msg.Partition, "offset", msg.Offset)
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Warnw("Failed to commit offset", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) pause(ctx context.Context) bool {
	t := time.NewTimer(c.retryPause)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Topic returns the consumed topic
func (c *Consumer) Topic() string {
	return c.topic
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.reader.Close()
}
