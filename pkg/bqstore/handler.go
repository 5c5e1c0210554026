package bqstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
)

// RowDecoder converts one buffered message into a table row.
type RowDecoder[T any] func(msg types.Message) (*T, error)

// NewJSONDecoder returns a RowDecoder that unmarshals each payload as JSON.
func NewJSONDecoder[T any]() RowDecoder[T] {
	return func(msg types.Message) (*T, error) {
		var row T
		if err := json.Unmarshal(msg.Payload, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload as %T: %w", row, err)
		}
		return &row, nil
	}
}

// NewHandler returns a batcher.Handler that decodes a flushed batch into
// rows, writes them in one call, and acks the batch. A decode or write
// failure fails the whole batch, so the coordinator's safety net nacks it
// as a unit and the broker redelivers.
func NewHandler[T any](writer BatchWriter[T], decode RowDecoder[T], logger zerolog.Logger) batcher.Handler {
	log := logger.With().Str("component", "BigQueryBatchHandler").Logger()

	return func(ctx context.Context, _ types.AckSink, batch *batcher.Batch) error {
		rows := make([]*T, 0, len(batch.Messages))
		for i := range batch.Messages {
			row, err := decode(batch.Messages[i])
			if err != nil {
				return fmt.Errorf("failed to decode message %s: %w", batch.Messages[i].ID, err)
			}
			rows = append(rows, row)
		}

		if err := writer.WriteBatch(ctx, rows); err != nil {
			return err
		}

		if err := batch.AckAll(ctx); err != nil {
			return fmt.Errorf("failed to ack written batch: %w", err)
		}
		log.Debug().Str("batch_id", batch.ID).Int("rows", len(rows)).Msg("Batch written and acknowledged.")
		return nil
	}
}
