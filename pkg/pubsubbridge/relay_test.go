package pubsubbridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewRelay_RequiresExistingTopic(t *testing.T) {
	_, client := setupPubsubTest(t)

	_, err := NewRelay(context.Background(), RelayConfig{TopicID: "missing-topic"}, client, zerolog.Nop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestRelay_RepublishesAndAcks(t *testing.T) {
	ctx := context.Background()
	srv, client := setupPubsubTest(t)
	createTopicAndSub(t, client, "relay-in", "relay-in-sub")
	createTopicAndSub(t, client, "relay-out", "relay-out-sub")

	relay, err := NewRelay(ctx, RelayConfig{TopicID: "relay-out"}, client, zerolog.Nop())
	require.NoError(t, err)

	b, err := batcher.NewBatcher(batcher.Config{MaxSizeBytes: 1}, relay.Handle, zerolog.Nop())
	require.NoError(t, err)

	consumer, err := NewConsumer(NewConsumerDefaults("relay-in-sub"), client, b, zerolog.Nop())
	require.NoError(t, err)
	startConsumer(t, consumer)

	// Collect everything arriving downstream.
	var mu sync.Mutex
	relayed := make(map[string]string)
	receiveCtx, cancelReceive := context.WithCancel(ctx)
	t.Cleanup(cancelReceive)
	go func() {
		_ = client.Subscription("relay-out-sub").Receive(receiveCtx, func(_ context.Context, m *pubsub.Message) {
			mu.Lock()
			relayed[string(m.Data)] = m.Attributes["origin"]
			mu.Unlock()
			m.Ack()
		})
	}()

	topicName := fmt.Sprintf("projects/%s/topics/%s", testProjectID, "relay-in")
	srv.Publish(topicName, []byte("first"), map[string]string{"origin": "edge"})
	srv.Publish(topicName, []byte("second"), map[string]string{"origin": "edge"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(relayed) == 2
	}, 10*time.Second, 20*time.Millisecond, "expected both messages to be republished downstream")

	mu.Lock()
	require.Equal(t, "edge", relayed["first"], "attributes should survive the relay")
	require.Equal(t, "edge", relayed["second"])
	mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, relay.Stop(stopCtx))
}
