package pubsubbridge

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
)

// RelayConfig holds the settings for a Relay.
type RelayConfig struct {
	TopicID string
	// BatchDelayThreshold and BatchCountThreshold tune the client-side
	// publish batching; zero values keep the client defaults.
	BatchDelayThreshold time.Duration
	BatchCountThreshold int
}

// Relay is a batch handler that republishes every message of a batch to a
// downstream topic and acks the batch once every publish is confirmed. A
// failed publish fails the whole batch, handing it to the coordinator's
// nack safety net.
type Relay struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewRelay verifies the downstream topic exists and returns a Relay
// publishing to it. Use Relay.Handle as the batcher's handler.
func NewRelay(ctx context.Context, cfg RelayConfig, client *pubsub.Client, logger zerolog.Logger) (*Relay, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	if cfg.BatchDelayThreshold > 0 {
		topic.PublishSettings.DelayThreshold = cfg.BatchDelayThreshold
	}
	if cfg.BatchCountThreshold > 0 {
		topic.PublishSettings.CountThreshold = cfg.BatchCountThreshold
	}

	return &Relay{
		topic:  topic,
		logger: logger.With().Str("component", "PubsubRelay").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Handle implements batcher.Handler. Publishes are queued for the whole
// batch first, then confirmed in order, so the client can coalesce them
// into as few wire calls as its publish settings allow.
func (r *Relay) Handle(ctx context.Context, _ types.AckSink, batch *batcher.Batch) error {
	results := make([]*pubsub.PublishResult, 0, len(batch.Messages))
	for i := range batch.Messages {
		results = append(results, r.topic.Publish(ctx, &pubsub.Message{
			Data:       batch.Messages[i].Payload,
			Attributes: batch.Messages[i].Attributes,
		}))
	}

	for i, result := range results {
		if _, err := result.Get(ctx); err != nil {
			return fmt.Errorf("failed to publish message %s downstream: %w", batch.Messages[i].ID, err)
		}
	}

	if err := batch.AckAll(ctx); err != nil {
		return fmt.Errorf("failed to ack relayed batch: %w", err)
	}
	r.logger.Debug().Str("batch_id", batch.ID).Int("message_count", len(batch.Messages)).Msg("Relayed batch downstream.")
	return nil
}

// Stop flushes pending publishes, respecting the context's deadline.
func (r *Relay) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		r.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
