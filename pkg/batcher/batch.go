package batcher

import (
	"context"

	"github.com/illmade-knight/go-mqbatch/pkg/types"
)

// Handler processes one detached batch. On success the coordinator takes no
// further action: the handler acks or nacks through the batch, or per
// message through the sink, if and when it wants to, and calling neither is
// legal. A returned error triggers the coordinator's nack safety net unless
// Config.SkipNackOnFailure disables it.
type Handler func(ctx context.Context, sink types.AckSink, batch *Batch) error

// Batch is an immutable snapshot of one flushed accumulation cycle. Its
// acknowledgment methods are bound to the detached message list and to the
// sink captured at flush time, never to the coordinator's current cycle, so
// nothing the coordinator does after the flush can affect a batch already
// in flight.
type Batch struct {
	// ID correlates the batch's log events.
	ID string
	// Messages holds the batch contents in arrival order.
	Messages []types.Message
	// TotalBytes is the summed payload size of Messages.
	TotalBytes int64

	sink       types.AckSink
	dispatcher *Dispatcher
}

// AckAll positively acknowledges every message in the batch, in arrival
// order.
func (b *Batch) AckAll(ctx context.Context) error {
	return b.dispatcher.AckAll(ctx, b.sink, b.Messages)
}

// NackAll negatively acknowledges every message in the batch, in arrival
// order.
func (b *Batch) NackAll(ctx context.Context, requeue bool) error {
	return b.dispatcher.NackAll(ctx, b.sink, b.Messages, requeue)
}
