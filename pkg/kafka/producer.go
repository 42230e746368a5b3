// Package kafka provides the Kafka producer, verification consumer, and
// topic-provisioning client backed by segmentio/kafka-go. The producer runs
// the writer in async mode: Publish enqueues a message, the delivery report
// arrives through the writer's completion callback, and Flush blocks until
// every outstanding delivery has been acknowledged or failed.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gutenfeed/pkg/config"
	"gutenfeed/pkg/metrics"

	"github.com/segmentio/kafka-go"
)

// Producer publishes messages to a single Kafka topic asynchronously.
type Producer struct {
	writer  *kafka.Writer
	topic   string
	headers []kafka.Header
	logger  *slog.Logger
	metrics *metrics.Metrics

	pending   sync.WaitGroup
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewProducer creates a Producer for the configured topic and verifies broker
// connectivity with a probe dial, so a dead cluster fails the run at startup
// instead of surfacing as per-message delivery errors later.
func NewProducer(cfg config.KafkaConfig, runID string, m *metrics.Metrics) (*Producer, error) {
	p := &Producer{
		topic:   cfg.Topic,
		logger:  slog.Default().With("component", "kafka-producer", "topic", cfg.Topic),
		metrics: m,
	}
	if runID != "" {
		p.headers = []kafka.Header{{Key: "run_id", Value: []byte(runID)}}
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		BatchBytes:   int64(cfg.MaxMessageBytes),
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion:   p.completeBatch,
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout.Duration())
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("connecting to kafka broker %s: %w", cfg.Brokers[0], err)
	}
	conn.Close()

	return p, nil
}

// Publish enqueues one message keyed for partition hashing. Delivery is
// asynchronous; a nil return only means the message was accepted into the
// writer's queue.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: p.headers,
		Time:    time.Now(),
	}

	p.pending.Add(1)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		// With Async set, a synchronous error means the message never
		// entered the queue and no completion will fire for it.
		p.pending.Done()
		return fmt.Errorf("queueing message: %w", err)
	}
	return nil
}

// completeBatch is the delivery report. The writer invokes it once per
// written batch, off the publishing goroutine.
func (p *Producer) completeBatch(msgs []kafka.Message, err error) {
	for _, msg := range msgs {
		if err != nil {
			p.failed.Add(1)
			p.metrics.MessagesFailed.Inc()
			p.logger.Error("message delivery failed",
				"key", string(msg.Key),
				"error", err,
			)
		} else {
			p.delivered.Add(1)
			p.metrics.MessagesDelivered.Inc()
			p.logger.Debug("message delivered",
				"key", string(msg.Key),
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}
		p.pending.Done()
	}
}

// Flush blocks until every enqueued message has a delivery report, or until
// ctx is cancelled. After a clean Flush no messages are in flight.
func (p *Producer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush interrupted: %w", ctx.Err())
	}
}

// Stats returns the running totals of delivered and failed messages.
func (p *Producer) Stats() (delivered, failed uint64) {
	return p.delivered.Load(), p.failed.Load()
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
