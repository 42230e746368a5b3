package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gutenfeed/pkg/config"

	"github.com/segmentio/kafka-go"
)

// Consumer reads messages back from the publish topic. The pipeline itself
// never consumes; this client exists for verification tooling and the
// end-to-end tests, which check that published lines actually landed.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewConsumer creates a Consumer on the configured topic. Each distinct
// groupID starts from the earliest offset, so a fresh group sees everything
// the run published before the consumer joined.
func NewConsumer(cfg config.KafkaConfig, groupID string) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    cfg.MaxMessageBytes,
		StartOffset: kafka.FirstOffset,
	})
	return &Consumer{
		reader: r,
		logger: slog.Default().With("component", "kafka-consumer", "topic", cfg.Topic),
	}
}

// Read fetches and commits the next message, blocking until one arrives or
// ctx is cancelled.
func (c *Consumer) Read(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("reading message: %w", err)
	}
	c.logger.Debug("message received",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"value_size", len(msg.Value),
	)
	return msg, nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
