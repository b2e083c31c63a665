//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/internal/platform/events"
	"custodia/pkg/testutil/containers"
)

func TestKafkaPublishDelivers(t *testing.T) {
	broker := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "custody-events"
	broker.CreateTopic(ctx, t, topic)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher, err := events.NewKafka([]string{broker.Broker}, topic, log)
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]string{"id": "EVD-1", "status": "collected"})
	publisher.Publish(ctx, "EvidenceCreated", payload)
	// Close flushes the async produce before we consume.
	publisher.Close()

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, "EvidenceCreated", string(records[0].Key))
	require.JSONEq(t, string(payload), string(records[0].Value))
}
