package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka publishes mutation events to a single topic, keyed by event name so
// consumers see per-operation ordering.
type Kafka struct {
	client *kgo.Client
	topic  string
	log    *slog.Logger
}

// NewKafka connects to the given brokers. The returned publisher produces
// asynchronously; delivery failures are logged, never returned to mutation
// callers.
func NewKafka(brokers []string, topic string, log *slog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}
	return &Kafka{client: client, topic: topic, log: log}, nil
}

func (k *Kafka) Publish(ctx context.Context, name string, payload json.RawMessage) {
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(name),
		Value: payload,
	}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			logDropped(k.log, name, err)
		}
	})
}

// Close flushes outstanding produces and releases the client.
func (k *Kafka) Close() {
	_ = k.client.Flush(context.Background())
	k.client.Close()
}
