// Package amqpbridge connects a RabbitMQ queue to a batcher: a consumer
// that buffers each delivery and an AckSink that settles deliveries through
// the channel they arrived on.
package amqpbridge

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-mqbatch/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Sink settles AMQP deliveries. Tokens must be the amqp.Delivery values
// handed to the consumer; each delivery carries the channel acknowledger it
// must be settled on.
type Sink struct{}

func (Sink) Ack(_ context.Context, token types.AckToken) error {
	d, ok := token.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want amqp.Delivery", token)
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

// Nack maps the requeue flag straight onto basic.nack: a requeued delivery
// returns to the queue for redelivery, and without requeue the broker
// discards it or dead-letters it per the queue's policy.
func (Sink) Nack(_ context.Context, token types.AckToken, requeue bool) error {
	d, ok := token.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want amqp.Delivery", token)
	}
	if err := d.Nack(false, requeue); err != nil {
		return fmt.Errorf("failed to nack delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}
