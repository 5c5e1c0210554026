package redisbridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ConsumerConfig holds the configuration for a Redis Streams consumer.
type ConsumerConfig struct {
	Addr     string
	Password string
	DB       int

	Stream string
	Group  string
	// ConsumerName identifies this reader within the group. Entries it
	// reads stay pending under this name until settled.
	ConsumerName string

	// BlockTimeout bounds each XREADGROUP call so the loop can notice
	// shutdown. ReadCount caps entries per call.
	BlockTimeout time.Duration
	ReadCount    int64

	// PayloadField is the entry field holding the message payload. Other
	// fields become message attributes.
	PayloadField string
}

// NewConsumerDefaults returns a production-ready consumer configuration.
func NewConsumerDefaults(addr, stream, group, consumerName string) ConsumerConfig {
	return ConsumerConfig{
		Addr:         addr,
		Stream:       stream,
		Group:        group,
		ConsumerName: consumerName,
		BlockTimeout: 5 * time.Second,
		ReadCount:    64,
		PayloadField: "data",
	}
}

// Consumer reads one stream through a consumer group and feeds every entry
// into a Batcher. Each entry is buffered with its ID as the acknowledgment
// token; settlement happens later, batch-wide, through the Sink.
type Consumer struct {
	cfg     ConsumerConfig
	client  *redis.Client
	batcher *batcher.Batcher
	sink    Sink
	logger  zerolog.Logger

	stopOnce   sync.Once
	cancelRead context.CancelFunc
	doneChan   chan struct{}
}

// NewConsumer connects to Redis, ensures the consumer group exists, and
// wires the stream to the batcher. Consumption does not begin until Start.
func NewConsumer(ctx context.Context, cfg ConsumerConfig, b *batcher.Batcher, logger zerolog.Logger) (*Consumer, error) {
	if b == nil {
		return nil, fmt.Errorf("batcher cannot be nil")
	}
	if cfg.Stream == "" || cfg.Group == "" || cfg.ConsumerName == "" {
		return nil, fmt.Errorf("stream, group, and consumer name are required")
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 64
	}
	if cfg.PayloadField == "" {
		cfg.PayloadField = "data"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	// Ensure the group exists, creating the stream alongside it if needed.
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create consumer group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}

	return &Consumer{
		cfg:     cfg,
		client:  client,
		batcher: b,
		sink:    NewSink(client, cfg.Stream, cfg.Group),
		logger: logger.With().
			Str("component", "RedisConsumer").
			Str("stream", cfg.Stream).
			Str("group", cfg.Group).
			Logger(),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the read loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Redis stream consumption...")
	readCtx, cancel := context.WithCancel(ctx)
	c.cancelRead = cancel

	go func() {
		defer close(c.doneChan)
		defer c.logger.Info().Msg("Redis read loop stopped.")

		for {
			select {
			case <-readCtx.Done():
				return
			default:
			}

			streams, err := c.client.XReadGroup(readCtx, &redis.XReadGroupArgs{
				Group:    c.cfg.Group,
				Consumer: c.cfg.ConsumerName,
				Streams:  []string{c.cfg.Stream, ">"},
				Count:    c.cfg.ReadCount,
				Block:    c.cfg.BlockTimeout,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if readCtx.Err() != nil {
					return
				}
				c.logger.Error().Err(err).Msg("Failed to read from stream. Backing off.")
				select {
				case <-readCtx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			for _, stream := range streams {
				for _, entry := range stream.Messages {
					c.bufferEntry(readCtx, entry)
				}
			}
		}
	}()
	return nil
}

func (c *Consumer) bufferEntry(ctx context.Context, entry redis.XMessage) {
	raw, ok := entry.Values[c.cfg.PayloadField]
	if !ok {
		c.ackMalformed(ctx, entry.ID, "Stream entry has no payload field.")
		return
	}
	payload, ok := raw.(string)
	if !ok {
		c.ackMalformed(ctx, entry.ID, "Stream entry payload is not a string.")
		return
	}

	var attributes map[string]string
	if len(entry.Values) > 1 {
		attributes = make(map[string]string, len(entry.Values)-1)
		for k, v := range entry.Values {
			if k == c.cfg.PayloadField {
				continue
			}
			if s, ok := v.(string); ok {
				attributes[k] = s
			}
		}
	}

	c.batcher.Buffer(ctx, c.sink, types.Message{
		ID:          entry.ID,
		Payload:     []byte(payload),
		PublishTime: entryTime(entry.ID),
		Attributes:  attributes,
		Token:       entry.ID,
	})
}

// ackMalformed settles entries the batcher can never process; leaving them
// pending would redeliver them forever.
func (c *Consumer) ackMalformed(ctx context.Context, entryID, reason string) {
	c.logger.Warn().Str("entry_id", entryID).Msg(reason + " Acking it away.")
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, entryID).Err(); err != nil {
		c.logger.Error().Err(err).Str("entry_id", entryID).Msg("Failed to ack malformed entry.")
	}
}

// entryTime recovers the entry's server timestamp from its <ms>-<seq> ID.
func entryTime(id string) time.Time {
	msPart, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Stop halts the read loop, waiting up to the context's deadline. The Redis
// client stays open so batches flushed afterwards can still settle; call
// Close once the batcher is done.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Redis consumer...")
		if c.cancelRead != nil {
			c.cancelRead()
		}
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Redis read loop confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for Redis read loop to stop.")
			err = ctx.Err()
		}
	})
	return err
}

// Close releases the Redis client. Call it after the batcher has flushed
// and settled its final batch.
func (c *Consumer) Close() error {
	c.logger.Info().Msg("Closing Redis client connection...")
	return c.client.Close()
}

// Done closes when the read loop has fully stopped.
func (c *Consumer) Done() <-chan struct{} { return c.doneChan }
