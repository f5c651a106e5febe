package kafka

import (
	"context"
	"errors"
	"fmt"

	"ms-seatsale/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Consumer tails one topic for a consumer group.
type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log}
}

// Run hands every message to handler until ctx is cancelled. Handler errors
// are logged and the message is skipped.
func (c *Consumer) Run(ctx context.Context, handler func(key, value []byte) error) error {
	topic := c.reader.Config().Topic
	c.logger.LogKafka("CONSUME", topic, "consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("kafka read from %s failed: %w", topic, err)
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			c.logger.LogKafka("HANDLE_FAILED", topic, fmt.Sprintf("offset %d: %v", msg.Offset, err))
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
