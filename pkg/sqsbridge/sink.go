// Package sqsbridge connects an Amazon SQS queue to a batcher: a long-poll
// consumer that buffers each received message and an AckSink that settles
// messages by receipt handle.
package sqsbridge

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
)

// sqsAPI is the subset of the SQS client the bridge calls. *sqs.Client
// satisfies it; tests substitute a fake.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Token identifies one received message for settlement.
type Token struct {
	MessageID     string
	ReceiptHandle string
}

// Sink settles queue messages. Tokens must be the Token values the
// consumer attaches to each buffered message.
type Sink struct {
	client   sqsAPI
	queueURL *string
}

// NewSink returns a Sink settling messages of the queue at queueURL.
func NewSink(client sqsAPI, queueURL string) Sink {
	return Sink{client: client, queueURL: aws.String(queueURL)}
}

func (s Sink) Ack(ctx context.Context, token types.AckToken) error {
	tok, ok := token.(Token)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want sqsbridge.Token", token)
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      s.queueURL,
		ReceiptHandle: aws.String(tok.ReceiptHandle),
	}); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", tok.MessageID, err)
	}
	return nil
}

// Nack with requeue zeroes the message's visibility timeout so the queue
// hands it out again immediately. Without requeue the message is deleted:
// SQS has no terminal reject short of removal, and the queue's redrive
// policy has already had its chance by then.
func (s Sink) Nack(ctx context.Context, token types.AckToken, requeue bool) error {
	tok, ok := token.(Token)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want sqsbridge.Token", token)
	}

	if requeue {
		if _, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          s.queueURL,
			ReceiptHandle:     aws.String(tok.ReceiptHandle),
			VisibilityTimeout: 0,
		}); err != nil {
			return fmt.Errorf("failed to reset visibility of message %s: %w", tok.MessageID, err)
		}
		return nil
	}

	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      s.queueURL,
		ReceiptHandle: aws.String(tok.ReceiptHandle),
	}); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", tok.MessageID, err)
	}
	return nil
}
