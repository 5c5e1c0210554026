// Package natsbridge connects a NATS JetStream subscription to a batcher:
// a consumer that buffers each delivery and an AckSink that settles
// deliveries against the JetStream consumer.
package natsbridge

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/nats-io/nats.go"
)

// Sink settles JetStream deliveries. Tokens must be the *nats.Msg values
// handed to the subscription callback.
type Sink struct{}

func (Sink) Ack(_ context.Context, token types.AckToken) error {
	msg, ok := token.(*nats.Msg)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want *nats.Msg", token)
	}
	return msg.Ack()
}

// Nack maps the requeue flag onto JetStream's two negative outcomes: Nak
// asks the server to redeliver, Term discards the delivery for good.
func (Sink) Nack(_ context.Context, token types.AckToken, requeue bool) error {
	msg, ok := token.(*nats.Msg)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want *nats.Msg", token)
	}
	if requeue {
		return msg.Nak()
	}
	return msg.Term()
}
