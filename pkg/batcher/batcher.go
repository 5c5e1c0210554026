// Package batcher accumulates broker-delivered messages into size- or
// time-bounded batches and settles each batch's acknowledgments as a unit.
package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the flush policy for a Batcher. Either threshold may be left
// zero to disable that trigger; with both zero the buffer accumulates until
// an explicit Flush or Close, a configuration a caller may choose
// deliberately at the risk of unbounded memory.
type Config struct {
	// MaxSizeBytes flushes a cycle as soon as its cumulative payload size
	// reaches or exceeds this many bytes. Zero disables size flushing.
	MaxSizeBytes int64
	// FlushInterval flushes a cycle this long after its first message
	// arrived. The timer is armed once per cycle, not reset per message.
	// Zero disables time flushing.
	FlushInterval time.Duration
	// SkipNackOnFailure leaves a failed batch's messages in whatever state
	// the handler left them instead of nacking the whole batch.
	SkipNackOnFailure bool
}

// Batcher coordinates one accumulation cycle at a time: it appends arriving
// messages, decides when to flush, and hands each detached batch to its
// handler. The append-check-flush sequence executes as one atomic unit
// under an internal lock; handlers always run outside it, so handler
// invocations from successive cycles may overlap.
type Batcher struct {
	cfg        Config
	handler    Handler
	dispatcher *Dispatcher
	logger     zerolog.Logger

	mu       sync.Mutex
	buf      messageBuffer
	sink     types.AckSink
	timer    *time.Timer
	timerGen uint64
	closed   bool
}

// NewBatcher creates a Batcher that hands every flushed batch to handler.
func NewBatcher(cfg Config, handler Handler, logger zerolog.Logger) (*Batcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if cfg.MaxSizeBytes < 0 {
		return nil, fmt.Errorf("max size bytes cannot be negative, got %d", cfg.MaxSizeBytes)
	}
	if cfg.FlushInterval < 0 {
		return nil, fmt.Errorf("flush interval cannot be negative, got %s", cfg.FlushInterval)
	}

	return &Batcher{
		cfg:        cfg,
		handler:    handler,
		dispatcher: NewDispatcher(logger),
		logger:     logger.With().Str("component", "Batcher").Logger(),
	}, nil
}

// Buffer records sink as the current dispatch target, appends msg to the
// open cycle, and evaluates the flush policy. Reaching the size threshold
// flushes synchronously before Buffer returns; otherwise, when a flush
// interval is configured, the cycle's single flush timer is armed.
//
// Nothing escapes Buffer: a handler failure is nacked (unless suppressed)
// and absorbed, leaving recovery to broker redelivery.
func (b *Batcher) Buffer(ctx context.Context, sink types.AckSink, msg types.Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn().Str("msg_id", msg.ID).Msg("Batcher is closed. Nacking message for redelivery.")
		if err := sink.Nack(ctx, msg.Token, true); err != nil {
			b.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to nack message on closed batcher.")
		}
		return
	}

	b.sink = sink
	b.buf.append(msg)
	count := b.buf.size()
	total := b.buf.byteTotal()

	if b.cfg.MaxSizeBytes > 0 && total >= b.cfg.MaxSizeBytes {
		b.cancelTimerLocked()
		batch := b.detachLocked()
		b.mu.Unlock()
		b.logger.Debug().Int("message_count", count).Int64("total_bytes", total).Msg("Size threshold reached. Flushing batch.")
		b.flush(ctx, batch)
		return
	}

	if b.cfg.FlushInterval > 0 {
		b.armTimerLocked()
	}
	b.mu.Unlock()
}

// Flush detaches and processes whatever the open cycle holds. It is the
// external flush trigger for accumulate-forever configurations; an empty
// cycle is a no-op.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	b.cancelTimerLocked()
	if b.buf.size() == 0 {
		b.mu.Unlock()
		return
	}
	count := b.buf.size()
	total := b.buf.byteTotal()
	batch := b.detachLocked()
	b.mu.Unlock()

	b.logger.Debug().Int("message_count", count).Int64("total_bytes", total).Msg("Manual flush requested. Flushing batch.")
	b.flush(ctx, batch)
}

// Close marks the batcher closed and flushes the residual cycle once.
// Messages buffered after Close are nacked straight back to the broker.
func (b *Batcher) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cancelTimerLocked()
	count := b.buf.size()
	total := b.buf.byteTotal()
	batch := b.detachLocked()
	b.mu.Unlock()

	if count == 0 {
		b.logger.Info().Msg("Batcher closed.")
		return
	}
	b.logger.Info().Int("message_count", count).Int64("total_bytes", total).Msg("Batcher closing. Flushing residual batch.")
	b.flush(ctx, batch)
}

// Pending reports the open cycle's current message count and byte total.
func (b *Batcher) Pending() (int, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.size(), b.buf.byteTotal()
}

// detachLocked snapshots the open cycle into a Batch bound to the current
// sink and resets the cycle to empty.
func (b *Batcher) detachLocked() *Batch {
	total, msgs := b.buf.detachAndReset()
	return &Batch{
		ID:         uuid.NewString(),
		Messages:   msgs,
		TotalBytes: total,
		sink:       b.sink,
		dispatcher: b.dispatcher,
	}
}

// armTimerLocked arms the cycle's single flush timer. Arming while a timer
// is already armed is a no-op, so the timer always measures from the first
// message of the cycle.
func (b *Batcher) armTimerLocked() {
	if b.timer != nil {
		return
	}
	b.timerGen++
	gen := b.timerGen
	b.timer = time.AfterFunc(b.cfg.FlushInterval, func() {
		b.flushOnTimer(gen)
	})
}

// cancelTimerLocked stops any armed timer. Cancelling when none is armed,
// or when the timer has already fired, is a safe no-op; a fired callback
// that lost the race re-checks its generation and gives up.
func (b *Batcher) cancelTimerLocked() {
	if b.timer == nil {
		return
	}
	b.timer.Stop()
	b.timer = nil
}

func (b *Batcher) flushOnTimer(gen uint64) {
	b.mu.Lock()
	if b.timer == nil || gen != b.timerGen {
		// The cycle this timer was armed for has already flushed.
		b.mu.Unlock()
		return
	}
	b.timer = nil
	count := b.buf.size()
	total := b.buf.byteTotal()
	batch := b.detachLocked()
	b.mu.Unlock()

	b.logger.Debug().Int("message_count", count).Int64("total_bytes", total).Msg("Flush timer fired. Flushing batch.")
	b.flush(context.Background(), batch)
}

// flush hands a detached batch to the handler and resolves its outcome.
// Must be called without holding the lock so in-flight handlers never block
// the accumulation of subsequent cycles.
func (b *Batcher) flush(ctx context.Context, batch *Batch) {
	if len(batch.Messages) == 0 {
		return
	}
	log := b.logger.With().Str("batch_id", batch.ID).Logger()

	err := b.invokeHandler(ctx, batch)
	if err == nil {
		log.Debug().Msg("Batch handler completed. Acknowledgment is owned by the handler.")
		return
	}

	log.Error().Err(err).Int("message_count", len(batch.Messages)).Msg("Batch handler failed.")
	if b.cfg.SkipNackOnFailure {
		return
	}
	if nackErr := batch.NackAll(ctx, true); nackErr != nil {
		log.Error().Err(nackErr).Msg("Failed to nack batch after handler failure.")
	}
}

// invokeHandler runs the handler, converting a panic into an error so a
// failing handler cannot take down the broker's delivery goroutine.
func (b *Batcher) invokeHandler(ctx context.Context, batch *Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panic: %v", r)
		}
	}()
	return b.handler(ctx, batch.sink, batch)
}
