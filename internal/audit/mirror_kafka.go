package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaMirror publishes audit events to a Kafka topic for downstream SIEM
// consumption. The ledger store remains the durable record; the mirror is
// best-effort and produces asynchronously.
type KafkaMirror struct {
	client *kgo.Client
	topic  string
}

// NewKafkaMirror connects a producer to the given brokers.
func NewKafkaMirror(brokers []string, topic string) (*KafkaMirror, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaMirror{client: client, topic: topic}, nil
}

// Publish produces the event keyed by actor ID so per-actor ordering holds
// within a partition.
func (m *KafkaMirror) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: m.topic,
		Key:   []byte(event.ActorID),
		Value: payload,
	}
	m.client.Produce(ctx, record, nil)
	return nil
}

// Close flushes pending records and releases the client.
func (m *KafkaMirror) Close(ctx context.Context) error {
	if err := m.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	m.client.Close()
	return nil
}
