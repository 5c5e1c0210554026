package pubsubbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// ConsumerConfig holds the settings for a Consumer.
type ConsumerConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
}

// NewConsumerDefaults returns a production-ready consumer configuration for
// the given subscription.
func NewConsumerDefaults(subscriptionID string) ConsumerConfig {
	return ConsumerConfig{
		SubscriptionID:         subscriptionID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          5,
	}
}

// NewProductionClient creates a Pub/Sub client suitable for production
// environments. It uses Application Default Credentials unless a specific
// credentials file is provided.
func NewProductionClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for Pub/Sub client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Pub/Sub client.")
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return client, nil
}

// Consumer feeds one subscription's deliveries into a Batcher. Each
// delivery is buffered with its own message as the acknowledgment token, so
// settlement happens later, batch-wide, through the Sink.
type Consumer struct {
	subscription *pubsub.Subscription
	batcher      *batcher.Batcher
	sink         Sink
	logger       zerolog.Logger

	stopOnce      sync.Once
	cancelReceive context.CancelFunc
	doneChan      chan struct{}
}

// NewConsumer verifies the subscription exists and wires it to the batcher.
func NewConsumer(cfg ConsumerConfig, client *pubsub.Client, b *batcher.Batcher, logger zerolog.Logger) (*Consumer, error) {
	if client == nil || b == nil {
		return nil, fmt.Errorf("client and batcher cannot be nil")
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 100
	}
	if cfg.NumGoroutines <= 0 {
		cfg.NumGoroutines = 5
	}

	sub := client.Subscription(cfg.SubscriptionID)
	existsCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &Consumer{
		subscription: sub,
		batcher:      b,
		logger:       logger.With().Str("component", "PubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start launches the receive loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelReceive = cancel

	go func() {
		defer close(c.doneChan)
		defer c.logger.Info().Msg("Pub/Sub receive goroutine stopped.")

		err := c.subscription.Receive(receiveCtx, func(msgCtx context.Context, msg *pubsub.Message) {
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			c.batcher.Buffer(msgCtx, c.sink, types.Message{
				ID:          msg.ID,
				Payload:     payloadCopy,
				PublishTime: msg.PublishTime,
				Attributes:  msg.Attributes,
				Token:       msg,
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Stop cancels the receive loop and waits for it to wind down, respecting
// the context's deadline. The batcher is left untouched: callers flush or
// close it separately once delivery has stopped.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelReceive != nil {
			c.cancelReceive()
		}
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pub/Sub receive goroutine confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for Pub/Sub receive goroutine to stop.")
			err = ctx.Err()
		}
	})
	return err
}

// Done closes when the receive loop has fully stopped.
func (c *Consumer) Done() <-chan struct{} { return c.doneChan }
