package fsstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
)

// DocumentDecoder converts one buffered message into a document.
type DocumentDecoder[T any] func(msg types.Message) (Document[T], error)

// NewJSONDecoder returns a DocumentDecoder that unmarshals each payload as
// JSON and keys the document by the message ID, falling back to a fresh
// UUID when the broker supplied none.
func NewJSONDecoder[T any]() DocumentDecoder[T] {
	return func(msg types.Message) (Document[T], error) {
		var data T
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			return Document[T]{}, fmt.Errorf("failed to unmarshal payload as %T: %w", data, err)
		}
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		return Document[T]{ID: id, Data: &data}, nil
	}
}

// NewHandler returns a batcher.Handler that decodes a flushed batch into
// documents, commits them in one bulk write, and acks the batch. A decode
// or write failure fails the whole batch, so the coordinator's safety net
// nacks it as a unit and the broker redelivers.
func NewHandler[T any](writer DocumentWriter[T], decode DocumentDecoder[T], logger zerolog.Logger) batcher.Handler {
	log := logger.With().Str("component", "FirestoreBatchHandler").Logger()

	return func(ctx context.Context, _ types.AckSink, batch *batcher.Batch) error {
		docs := make([]Document[T], 0, len(batch.Messages))
		for i := range batch.Messages {
			doc, err := decode(batch.Messages[i])
			if err != nil {
				return fmt.Errorf("failed to decode message %s: %w", batch.Messages[i].ID, err)
			}
			docs = append(docs, doc)
		}

		if err := writer.WriteBatch(ctx, docs); err != nil {
			return err
		}

		if err := batch.AckAll(ctx); err != nil {
			return fmt.Errorf("failed to ack written batch: %w", err)
		}
		log.Debug().Str("batch_id", batch.ID).Int("documents", len(docs)).Msg("Batch written and acknowledged.")
		return nil
	}
}
