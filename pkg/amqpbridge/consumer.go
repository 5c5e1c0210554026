package amqpbridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// amqpChannel is the subset of *amqp.Channel the consumer needs, so tests
// can fake the broker.
type amqpChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// ConsumerConfig holds the settings for a Consumer.
type ConsumerConfig struct {
	Queue string
	// ConsumerTag identifies this consumer on the channel. Empty generates
	// a unique tag.
	ConsumerTag string
	// PrefetchCount caps unsettled deliveries on the channel. Size it
	// against the batcher's thresholds so a full cycle can stay in flight.
	PrefetchCount int
}

// NewConsumerDefaults returns a production-ready consumer configuration.
func NewConsumerDefaults(queue string) ConsumerConfig {
	return ConsumerConfig{
		Queue:         queue,
		PrefetchCount: 64,
	}
}

// NewProductionChannel dials the broker and opens one channel on the
// connection. The caller owns both and closes the channel before the
// connection.
func NewProductionChannel(url string, logger zerolog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	logger.Info().Str("url", url).Msg("Connected to AMQP broker.")
	return conn, ch, nil
}

// Consumer feeds one queue's deliveries into a Batcher. Each delivery is
// buffered with itself as the acknowledgment token, so settlement happens
// later, batch-wide, through the Sink.
type Consumer struct {
	cfg     ConsumerConfig
	channel amqpChannel
	batcher *batcher.Batcher
	sink    Sink
	logger  zerolog.Logger

	stopOnce sync.Once
	doneChan chan struct{}
}

// NewConsumer wires the queue to the batcher. Consumption does not begin
// until Start.
func NewConsumer(cfg ConsumerConfig, ch amqpChannel, b *batcher.Batcher, logger zerolog.Logger) (*Consumer, error) {
	if ch == nil || b == nil {
		return nil, fmt.Errorf("channel and batcher cannot be nil")
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "mqbatch-" + uuid.NewString()
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 64
	}

	return &Consumer{
		cfg:      cfg,
		channel:  ch,
		batcher:  b,
		logger:   logger.With().Str("component", "AmqpConsumer").Str("queue", cfg.Queue).Logger(),
		doneChan: make(chan struct{}),
	}, nil
}

// Start registers the consumer and begins feeding deliveries to the
// batcher. The delivery loop ends when the broker closes the delivery
// channel, whether through Stop or a lost connection.
func (c *Consumer) Start(_ context.Context) error {
	if err := c.channel.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set channel qos: %w", err)
	}
	deliveries, err := c.channel.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from queue %s: %w", c.cfg.Queue, err)
	}

	c.logger.Info().Str("consumer_tag", c.cfg.ConsumerTag).Msg("Starting AMQP message consumption...")
	go func() {
		defer close(c.doneChan)
		defer c.logger.Info().Msg("AMQP delivery loop stopped.")
		for d := range deliveries {
			c.onDelivery(d)
		}
	}()
	return nil
}

func (c *Consumer) onDelivery(d amqp.Delivery) {
	payloadCopy := make([]byte, len(d.Body))
	copy(payloadCopy, d.Body)
	d.Body = payloadCopy

	var attributes map[string]string
	if len(d.Headers) > 0 {
		attributes = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				attributes[k] = s
			}
		}
	}

	c.batcher.Buffer(context.Background(), c.sink, types.Message{
		ID:          d.MessageId,
		Payload:     payloadCopy,
		PublishTime: d.Timestamp,
		Attributes:  attributes,
		Token:       d,
	})
}

// Stop cancels the consumer registration and waits for the delivery loop
// to drain, respecting the context's deadline. The batcher is left
// untouched: callers flush or close it separately once delivery has
// stopped.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping AMQP consumer...")
		if cancelErr := c.channel.Cancel(c.cfg.ConsumerTag, false); cancelErr != nil {
			err = fmt.Errorf("failed to cancel consumer %s: %w", c.cfg.ConsumerTag, cancelErr)
			return
		}
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("AMQP delivery loop confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for AMQP delivery loop to stop.")
			err = ctx.Err()
		}
	})
	return err
}

// Done closes when the delivery loop has fully stopped.
func (c *Consumer) Done() <-chan struct{} { return c.doneChan }
