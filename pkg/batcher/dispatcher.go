package batcher

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
)

// Dispatcher applies batch-wide acknowledgment decisions to a sink, one
// message at a time in list order. Settlement is per message at the wire
// level: there are no all-or-nothing semantics, and if the sink fails
// partway through a list, messages settled before the failure stay settled.
type Dispatcher struct {
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher that emits trace-level lifecycle
// events through the provided logger.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.With().Str("component", "AckDispatcher").Logger(),
	}
}

// AckAll positively acknowledges every message, in list order. The first
// sink error stops the sweep and is returned to the caller.
func (d *Dispatcher) AckAll(ctx context.Context, sink types.AckSink, messages []types.Message) error {
	d.logger.Trace().Int("message_count", len(messages)).Msg("Acking all messages in batch.")
	for i := range messages {
		if err := sink.Ack(ctx, messages[i].Token); err != nil {
			return fmt.Errorf("failed to ack message %s: %w", messages[i].ID, err)
		}
	}
	d.logger.Trace().Int("message_count", len(messages)).Msg("Acked all messages in batch.")
	return nil
}

// NackAll negatively acknowledges every message, in list order, with the
// given requeue flag. The first sink error stops the sweep and is returned
// to the caller.
func (d *Dispatcher) NackAll(ctx context.Context, sink types.AckSink, messages []types.Message, requeue bool) error {
	d.logger.Trace().Int("message_count", len(messages)).Bool("requeue", requeue).Msg("Nacking all messages in batch.")
	for i := range messages {
		if err := sink.Nack(ctx, messages[i].Token, requeue); err != nil {
			return fmt.Errorf("failed to nack message %s: %w", messages[i].ID, err)
		}
	}
	d.logger.Trace().Int("message_count", len(messages)).Msg("Nacked all messages in batch.")
	return nil
}
