// Package fsstore persists flushed batches to Cloud Firestore. Its handler
// decodes every message of a batch into one document, commits the documents
// through a BulkWriter, and acknowledges the batch only once every write
// has succeeded.
package fsstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// CollectionConfig holds configuration for the target collection.
type CollectionConfig struct {
	ProjectID      string
	CollectionName string
}

// NewProductionClient creates a Firestore client suitable for production
// environments. It uses Application Default Credentials unless a specific
// credentials file is provided.
func NewProductionClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for Firestore client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Firestore client.")
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return client, nil
}

// Document pairs a document ID with its data.
type Document[T any] struct {
	ID   string
	Data *T
}

// DocumentWriter is a generic interface for committing one batch of
// documents. It abstracts the destination, keeping handlers testable.
type DocumentWriter[T any] interface {
	WriteBatch(ctx context.Context, docs []Document[T]) error
	Close() error
}

// FirestoreWriter implements DocumentWriter for Cloud Firestore using a
// BulkWriter per batch.
type FirestoreWriter[T any] struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreWriter creates a writer setting documents in the configured
// collection.
func NewFirestoreWriter[T any](cfg *CollectionConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreWriter[T], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreWriter initialized.")

	return &FirestoreWriter[T]{
		client:     client,
		collection: cfg.CollectionName,
		logger:     logger.With().Str("component", "FirestoreWriter").Str("collection", cfg.CollectionName).Logger(),
	}, nil
}

// WriteBatch commits one batch of documents as Set operations. It queues
// every write on a BulkWriter, ends it, and then checks each job's result,
// so a single failed document fails the whole batch.
func (w *FirestoreWriter[T]) WriteBatch(ctx context.Context, docs []Document[T]) error {
	if len(docs) == 0 {
		return nil
	}

	bw := w.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		ref := w.client.Collection(w.collection).Doc(doc.ID)
		job, err := bw.Set(ref, doc.Data)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue document %s: %w", doc.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			w.logger.Error().Err(err).Str("doc_id", docs[i].ID).Msg("Failed to write document to Firestore.")
			return fmt.Errorf("firestore bulk write failed for %s: %w", docs[i].ID, err)
		}
	}

	w.logger.Debug().Int("batch_size", len(docs)).Msg("Successfully wrote batch to Firestore.")
	return nil
}

// Close is a no-op. The Firestore client's lifecycle is managed externally,
// so a single client can back several writers.
func (w *FirestoreWriter[T]) Close() error {
	return nil
}
