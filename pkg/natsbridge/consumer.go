package natsbridge

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ConsumerConfig holds the settings for a Consumer.
type ConsumerConfig struct {
	// StreamName is the JetStream stream the subscription binds to. The
	// stream is created with Subject if it does not exist yet.
	StreamName string
	Subject    string
	// DurableName names the JetStream consumer so its position survives
	// restarts. Empty creates an ephemeral consumer.
	DurableName string
	// QueueGroup load-balances deliveries across replicas sharing the
	// group name. Empty subscribes without a group.
	QueueGroup string
	// AckWait is how long the server waits for a settlement before
	// redelivering. It bounds how long a flush cycle plus its handler may
	// take, so size it against the batcher's flush interval.
	AckWait       time.Duration
	MaxAckPending int
}

// NewConsumerDefaults returns a production-ready consumer configuration.
func NewConsumerDefaults(streamName, subject, durableName string) ConsumerConfig {
	return ConsumerConfig{
		StreamName:    streamName,
		Subject:       subject,
		DurableName:   durableName,
		AckWait:       30 * time.Second,
		MaxAckPending: 1024,
	}
}

// NewProductionConn connects to the NATS server at url with unlimited
// reconnects. An empty url targets the default localhost address.
func NewProductionConn(url string, name string, logger zerolog.Logger) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	logger.Info().Str("url", url).Msg("Connected to NATS server.")
	return nc, nil
}

// Consumer feeds one JetStream subscription's deliveries into a Batcher.
// Each delivery is buffered with its own *nats.Msg as the acknowledgment
// token; settlement happens later, batch-wide, through the Sink.
type Consumer struct {
	cfg     ConsumerConfig
	js      nats.JetStreamContext
	batcher *batcher.Batcher
	sink    Sink
	logger  zerolog.Logger

	sub      *nats.Subscription
	stopOnce sync.Once
	doneChan chan struct{}
}

// NewConsumer ensures the stream exists and wires the subscription config
// to the batcher. Consumption does not begin until Start.
func NewConsumer(cfg ConsumerConfig, nc *nats.Conn, b *batcher.Batcher, logger zerolog.Logger) (*Consumer, error) {
	if nc == nil || b == nil {
		return nil, fmt.Errorf("connection and batcher cannot be nil")
	}
	if cfg.StreamName == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("stream name and subject are required")
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1024
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}

	// Ensure the stream exists (idempotent).
	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      cfg.StreamName,
			Subjects:  []string{cfg.Subject},
			Retention: nats.LimitsPolicy,
		}); err != nil {
			return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.StreamName, err)
		}
	}

	return &Consumer{
		cfg:      cfg,
		js:       js,
		batcher:  b,
		logger:   logger.With().Str("component", "NatsConsumer").Str("stream", cfg.StreamName).Str("subject", cfg.Subject).Logger(),
		doneChan: make(chan struct{}),
	}, nil
}

// Start subscribes and begins feeding deliveries to the batcher.
func (c *Consumer) Start(_ context.Context) error {
	opts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckWait(c.cfg.AckWait),
		nats.MaxAckPending(c.cfg.MaxAckPending),
		nats.BindStream(c.cfg.StreamName),
	}
	if c.cfg.DurableName != "" {
		opts = append(opts, nats.Durable(c.cfg.DurableName))
	}

	var (
		sub *nats.Subscription
		err error
	)
	if c.cfg.QueueGroup != "" {
		sub, err = c.js.QueueSubscribe(c.cfg.Subject, c.cfg.QueueGroup, c.onMessage, opts...)
	} else {
		sub, err = c.js.Subscribe(c.cfg.Subject, c.onMessage, opts...)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Subject, err)
	}

	c.sub = sub
	c.logger.Info().Msg("Starting NATS message consumption...")
	return nil
}

func (c *Consumer) onMessage(msg *nats.Msg) {
	payloadCopy := make([]byte, len(msg.Data))
	copy(payloadCopy, msg.Data)

	var (
		id          string
		publishTime time.Time
	)
	if meta, err := msg.Metadata(); err == nil {
		id = strconv.FormatUint(meta.Sequence.Stream, 10)
		publishTime = meta.Timestamp
	}

	var attributes map[string]string
	if len(msg.Header) > 0 {
		attributes = make(map[string]string, len(msg.Header))
		for k, v := range msg.Header {
			if len(v) > 0 {
				attributes[k] = v[0]
			}
		}
	}

	c.batcher.Buffer(context.Background(), c.sink, types.Message{
		ID:          id,
		Payload:     payloadCopy,
		PublishTime: publishTime,
		Attributes:  attributes,
		Token:       msg,
	})
}

// Stop drains the subscription so in-flight callbacks complete, waiting up
// to the context's deadline. The batcher is left untouched: callers flush
// or close it separately once delivery has stopped.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		defer close(c.doneChan)
		c.logger.Info().Msg("Stopping NATS consumer...")
		if c.sub == nil {
			return
		}
		if drainErr := c.sub.Drain(); drainErr != nil {
			err = fmt.Errorf("failed to drain subscription: %w", drainErr)
			return
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for c.sub.IsValid() {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return
			case <-ticker.C:
			}
		}
		c.logger.Info().Msg("NATS subscription drained.")
	})
	return err
}

// Done closes when the consumer has fully stopped.
func (c *Consumer) Done() <-chan struct{} { return c.doneChan }
