// Package kafkanotify publishes pipeline status events to a Kafka
// topic. The payload is the [domain.NotificationEvent] serialized
// verbatim; consumers correlate status with the originating commit via
// the embedded trigger record.
package kafkanotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/githubflow/githubflow-server/internal/domain"
)

// messageProducer is the slice of [kafka.Producer] the notifier uses.
type messageProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// Producer implements [domain.Notifier] on top of a Kafka producer.
type Producer struct {
	producer messageProducer
	topic    string
	logger   *slog.Logger
}

// NewProducer connects a producer to the given bootstrap servers. The
// delivery-report channel is drained in the background; failed
// deliveries are logged, matching the channel's best-effort contract.
func NewProducer(bootstrapServers, topic string, logger *slog.Logger) (*Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		for e := range p.Events() {
			if msg, ok := e.(*kafka.Message); ok && msg.TopicPartition.Error != nil {
				logger.Warn("notification delivery failed",
					slog.String("topic", topic),
					slog.String("error", msg.TopicPartition.Error.Error()),
				)
			}
		}
	}()

	return &Producer{producer: p, topic: topic, logger: logger}, nil
}

// Publish enqueues one status event keyed by the commit id, so all
// notifications of a run land on one partition in order.
func (p *Producer) Publish(_ context.Context, event domain.NotificationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Webhook.Commit.ID),
		Value:          value,
	}, nil)
	if err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the producer.
func (p *Producer) Close() {
	p.producer.Flush(5000)
	p.producer.Close()
}
