// Package types defines the message and acknowledgment contracts shared by
// the batching engine and the broker bridges.
package types

import (
	"context"
	"time"
)

// AckToken is the broker-specific handle needed to settle one delivered
// message. Each sink documents the concrete token type it expects.
type AckToken any

// Message is one broker-delivered message awaiting batch acknowledgment.
// The buffering engine owns a message from arrival until it is detached
// into a batch; ownership then transfers to that in-flight batch.
type Message struct {
	// ID is the unique identifier for the message from the source broker.
	ID string
	// Payload is the raw byte content of the message. The batching engine's
	// size accounting uses its exact length.
	Payload []byte
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time

	Attributes map[string]string

	// Token is handed back to the sink when the message is acked or nacked.
	Token AckToken
}

// SizeBytes reports the byte size the batching engine attributes to the
// message.
func (m Message) SizeBytes() int64 {
	return int64(len(m.Payload))
}

// AckSink applies acknowledgment decisions to a broker. A sink is shared
// across all flushes of one coordinator and must tolerate concurrent calls
// from overlapping in-flight batches.
type AckSink interface {
	Ack(ctx context.Context, token AckToken) error
	// Nack signals that processing failed and the message should be
	// re-queued or discarded. The requeue flag carries the broker-specific
	// redelivery meaning.
	Nack(ctx context.Context, token AckToken, requeue bool) error
}
