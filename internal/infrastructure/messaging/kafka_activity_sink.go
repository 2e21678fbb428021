package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const flushTimeoutMs = 5000

// KafkaActivitySink publishes persisted activity records for downstream consumers
type KafkaActivitySink struct {
	producer *kafka.Producer
	topic    string
	logger   *logger.Logger
}

// NewKafkaActivitySink creates a producer bound to the activity topic
func NewKafkaActivitySink(cfg *config.KafkaConfig, logger *logger.Logger) (*KafkaActivitySink, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"client.id":         "wallet-watcher",
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	sink := &KafkaActivitySink{
		producer: producer,
		topic:    cfg.ActivityTopic,
		logger:   logger.WithComponent("kafka-activity-sink"),
	}
	go sink.watchDeliveries()
	return sink, nil
}

// watchDeliveries logs asynchronous delivery failures
func (s *KafkaActivitySink) watchDeliveries() {
	for ev := range s.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				s.logger.Error("Activity delivery failed",
					zap.String("key", string(e.Key)),
					zap.Error(e.TopicPartition.Error))
			}
		case kafka.Error:
			s.logger.Warn("Kafka producer error", zap.Error(e))
		}
	}
}

// Publish implements ActivitySink. Records are keyed by wallet so one wallet's
// activity stays ordered within a partition.
func (s *KafkaActivitySink) Publish(ctx context.Context, record *entity.ActivityRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(record.WalletAddress),
		Value:          value,
		Headers: []kafka.Header{
			{Key: "signature", Value: []byte(record.Signature)},
			{Key: "user_id", Value: []byte(record.UserID)},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce activity: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the producer
func (s *KafkaActivitySink) Close() {
	if remaining := s.producer.Flush(flushTimeoutMs); remaining > 0 {
		s.logger.Warn("Unflushed activity messages on close", zap.Int("remaining", remaining))
	}
	s.producer.Close()
}
