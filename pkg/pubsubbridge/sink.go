// Package pubsubbridge connects a Google Pub/Sub subscription to a batcher:
// a consumer that buffers each delivery, an AckSink that settles deliveries,
// and a relay handler that republishes confirmed batches downstream.
package pubsubbridge

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
)

// Sink settles Pub/Sub deliveries. Tokens must be the *pubsub.Message
// values handed to the subscription's receive callback.
type Sink struct{}

func (Sink) Ack(_ context.Context, token types.AckToken) error {
	msg, ok := token.(*pubsub.Message)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want *pubsub.Message", token)
	}
	msg.Ack()
	return nil
}

// Nack schedules the delivery for redelivery. Pub/Sub has no terminal
// reject, so the requeue flag is advisory here: redelivery and
// dead-lettering policy belong to the subscription.
func (Sink) Nack(_ context.Context, token types.AckToken, _ bool) error {
	msg, ok := token.(*pubsub.Message)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want *pubsub.Message", token)
	}
	msg.Nack()
	return nil
}
