package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

const kafkaFlushTimeout = 5 * time.Second

// KafkaSink produces one message per alarm, keyed by alarm id.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaSink creates a producer for cfg.Brokers.
func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	if cfg.Brokers == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink needs brokers and topic")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   cfg.Brokers,
		"acks":                "1",
		"linger.ms":           5,
		"request.timeout.ms":  5000,
		"delivery.timeout.ms": 10000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	logger.WithComponent("sink").Info().
		Str("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka producer initialized")

	return &KafkaSink{producer: p, topic: cfg.Topic}, nil
}

// Name returns the sink name
func (s *KafkaSink) Name() string {
	return TypeKafka
}

// Send produces msg and waits for its delivery report or ctx.
func (s *KafkaSink) Send(ctx context.Context, msg *Message) error {
	delivery := make(chan kafka.Event, 1)
	err := s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(msg.Payload.AlarmID),
		Value: msg.Body,
		Headers: []kafka.Header{
			{Key: "video_id", Value: []byte(msg.Payload.VideoID)},
			{Key: "scene_type", Value: []byte(fmt.Sprint(msg.Payload.SceneType))},
		},
	}, delivery)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: kafka delivery: %v", ErrSendFailure, ctx.Err())
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("%w: unexpected kafka event %v", ErrSendFailure, e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("%w: %v", ErrSendFailure, m.TopicPartition.Error)
		}
		return nil
	}
}

// Close flushes pending messages and closes the producer
func (s *KafkaSink) Close() error {
	if remaining := s.producer.Flush(int(kafkaFlushTimeout.Milliseconds())); remaining > 0 {
		logger.WithComponent("sink").Warn().Int("remaining", remaining).Msg("Kafka messages still queued after flush")
	}
	s.producer.Close()
	return nil
}
