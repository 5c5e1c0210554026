// Package icestore archives flushed batches to Google Cloud Storage. Each
// batch becomes one gzip-compressed JSONL object, keyed by archival date
// and batch ID, and is acknowledged only after the upload is finalized.
package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
)

// ArchiverConfig holds the settings for an Archiver.
type ArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
}

// Archiver is a batch handler that writes every flushed batch to GCS and
// acks it once the object is finalized. A failed upload fails the whole
// batch, handing it to the coordinator's nack safety net.
type Archiver struct {
	client GCSClient
	cfg    ArchiverConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewArchiver creates an Archiver writing to the configured bucket. Use
// Archiver.Handle as the batcher's handler.
func NewArchiver(client GCSClient, cfg ArchiverConfig, logger zerolog.Logger) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &Archiver{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "GCSArchiver").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// Handle implements batcher.Handler.
func (a *Archiver) Handle(ctx context.Context, _ types.AckSink, batch *batcher.Batch) error {
	a.wg.Add(1)
	defer a.wg.Done()

	now := time.Now().UTC()
	records := make([]*Record, 0, len(batch.Messages))
	for i := range batch.Messages {
		m := &batch.Messages[i]
		records = append(records, &Record{
			ID:          m.ID,
			PublishTime: m.PublishTime,
			Attributes:  m.Attributes,
			Payload:     m.Payload,
			ArchivedAt:  now,
		})
	}

	dateKey := fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day())
	objectName := path.Join(a.cfg.ObjectPrefix, dateKey, batch.ID+".jsonl.gz")

	bytesWritten, err := a.upload(ctx, objectName, records)
	if err != nil {
		return err
	}

	if err := batch.AckAll(ctx); err != nil {
		return fmt.Errorf("failed to ack archived batch: %w", err)
	}
	a.logger.Info().
		Str("object_name", objectName).
		Int("record_count", len(records)).
		Int64("bytes_written", bytesWritten).
		Msg("Successfully archived batch to GCS.")
	return nil
}

// upload streams the records through a gzip pipe into one GCS object.
func (a *Archiver) upload(ctx context.Context, objectName string, records []*Record) (int64, error) {
	objHandle := a.client.Bucket(a.cfg.BucketName).Object(objectName)
	gcsWriter := objHandle.NewWriter(ctx)
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		defer func() { _ = gz.Close() }()
		enc := json.NewEncoder(gz)
		for _, rec := range records {
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
	}()

	bytesWritten, pipeReadErr := io.Copy(gcsWriter, pr)
	closeErr := gcsWriter.Close()

	if pipeReadErr != nil {
		return 0, fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, pipeReadErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}
	return bytesWritten, nil
}

// Close waits for in-flight uploads to complete.
func (a *Archiver) Close() error {
	a.logger.Info().Msg("Waiting for all pending GCS uploads to complete...")
	a.wg.Wait()
	a.logger.Info().Msg("All GCS uploads completed.")
	return nil
}
