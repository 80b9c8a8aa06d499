package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Iron-Ham/sprintfleet/internal/errors"
)

// KafkaSink produces records to a Kafka-compatible broker such as Redpanda.
type KafkaSink struct {
	client *kgo.Client
	topic  string

	mu     sync.RWMutex
	closed bool
}

// NewKafkaSink creates a producer for topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("export: at least one broker address is required")
	}
	if topic == "" {
		return nil, errors.New("export: topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

// Topic returns the Kafka topic records are produced to.
func (s *KafkaSink) Topic() string {
	return s.topic
}

// Write produces one record and waits for the broker to acknowledge it.
func (s *KafkaSink) Write(ctx context.Context, key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes nothing further and closes the client. It is idempotent.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.client.Close()
	return nil
}
