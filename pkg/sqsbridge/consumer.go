package sqsbridge

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
)

// ConsumerConfig holds the settings for a Consumer.
type ConsumerConfig struct {
	QueueURL string
	// WaitTimeSeconds is the long-poll duration per receive call, 0 to 20.
	WaitTimeSeconds int32
	// MaxMessages is the batch size per receive call, 1 to 10.
	MaxMessages int32
	// VisibilityTimeoutSeconds hides received messages from other
	// consumers while a flush cycle and its handler run. Size it against
	// the batcher's flush interval.
	VisibilityTimeoutSeconds int32
	// Pollers is the number of concurrent long-poll loops.
	Pollers int
}

// NewConsumerDefaults returns a production-ready consumer configuration.
func NewConsumerDefaults(queueURL string) ConsumerConfig {
	return ConsumerConfig{
		QueueURL:                 queueURL,
		WaitTimeSeconds:          20,
		MaxMessages:              10,
		VisibilityTimeoutSeconds: 30,
		Pollers:                  3,
	}
}

// NewProductionClient creates an SQS client using the default AWS
// credential chain.
func NewProductionClient(ctx context.Context, region string, logger zerolog.Logger) (*sqs.Client, error) {
	var optFns []func(*config.LoadOptions) error
	if region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	logger.Info().Str("region", awsCfg.Region).Msg("Using default AWS credential chain for SQS client.")
	return sqs.NewFromConfig(awsCfg), nil
}

// Consumer long-polls one queue and feeds every received message into a
// Batcher. Each message is buffered with a Token carrying its receipt
// handle; settlement happens later, batch-wide, through the Sink.
type Consumer struct {
	cfg      ConsumerConfig
	client   sqsAPI
	queueURL *string
	batcher  *batcher.Batcher
	sink     Sink
	logger   zerolog.Logger

	stopOnce   sync.Once
	cancelPoll context.CancelFunc
	wg         sync.WaitGroup
	doneChan   chan struct{}
}

// NewConsumer wires the queue to the batcher. Consumption does not begin
// until Start.
func NewConsumer(cfg ConsumerConfig, client sqsAPI, b *batcher.Batcher, logger zerolog.Logger) (*Consumer, error) {
	if client == nil || b == nil {
		return nil, fmt.Errorf("client and batcher cannot be nil")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	if cfg.WaitTimeSeconds < 0 || cfg.WaitTimeSeconds > 20 {
		return nil, fmt.Errorf("wait time seconds must be between 0 and 20, got %d", cfg.WaitTimeSeconds)
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 10
	}
	if cfg.MaxMessages > 10 {
		return nil, fmt.Errorf("max messages must be between 1 and 10, got %d", cfg.MaxMessages)
	}
	if cfg.VisibilityTimeoutSeconds < 0 {
		return nil, fmt.Errorf("visibility timeout cannot be negative, got %d", cfg.VisibilityTimeoutSeconds)
	}
	if cfg.Pollers <= 0 {
		cfg.Pollers = 3
	}

	return &Consumer{
		cfg:      cfg,
		client:   client,
		queueURL: aws.String(cfg.QueueURL),
		batcher:  b,
		sink:     NewSink(client, cfg.QueueURL),
		logger:   logger.With().Str("component", "SqsConsumer").Str("queue_url", cfg.QueueURL).Logger(),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the poll loops.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().Int("pollers", c.cfg.Pollers).Msg("Starting SQS message consumption...")
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancelPoll = cancel

	c.wg.Add(c.cfg.Pollers)
	for i := 0; i < c.cfg.Pollers; i++ {
		go func() {
			defer c.wg.Done()
			c.pollLoop(pollCtx)
		}()
	}
	go func() {
		c.wg.Wait()
		close(c.doneChan)
	}()
	return nil
}

func (c *Consumer) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.WaitTimeSeconds+5)*time.Second)
		out, err := c.client.ReceiveMessage(reqCtx, &sqs.ReceiveMessageInput{
			QueueUrl:              c.queueURL,
			MaxNumberOfMessages:   c.cfg.MaxMessages,
			WaitTimeSeconds:       c.cfg.WaitTimeSeconds,
			VisibilityTimeout:     c.cfg.VisibilityTimeoutSeconds,
			MessageAttributeNames: []string{"All"},
			AttributeNames:        []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Failed to receive from queue. Backing off.")
			select {
			case <-time.After(250 * time.Millisecond):
				continue
			case <-ctx.Done():
				return
			}
		}

		for i := range out.Messages {
			c.bufferMessage(ctx, &out.Messages[i])
		}
	}
}

func (c *Consumer) bufferMessage(ctx context.Context, msg *sqstypes.Message) {
	var attributes map[string]string
	if len(msg.MessageAttributes) > 0 {
		attributes = make(map[string]string, len(msg.MessageAttributes))
		for k, v := range msg.MessageAttributes {
			attributes[k] = aws.ToString(v.StringValue)
		}
	}

	var publishTime time.Time
	if ts, ok := msg.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]; ok {
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			publishTime = time.UnixMilli(ms)
		}
	}

	c.batcher.Buffer(ctx, c.sink, types.Message{
		ID:          aws.ToString(msg.MessageId),
		Payload:     []byte(aws.ToString(msg.Body)),
		PublishTime: publishTime,
		Attributes:  attributes,
		Token: Token{
			MessageID:     aws.ToString(msg.MessageId),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		},
	})
}

// Stop halts the poll loops and waits for them to wind down, respecting
// the context's deadline. The batcher is left untouched: callers flush or
// close it separately once delivery has stopped.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping SQS consumer...")
		if c.cancelPoll != nil {
			c.cancelPoll()
		}
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("SQS poll loops confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for SQS poll loops to stop.")
			err = ctx.Err()
		}
	})
	return err
}

// Done closes when all poll loops have stopped.
func (c *Consumer) Done() <-chan struct{} { return c.doneChan }
