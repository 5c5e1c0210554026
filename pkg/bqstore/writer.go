// Package bqstore persists flushed batches to BigQuery. Its handler decodes
// every message of a batch into one table row, streams the rows in a single
// insert, and acknowledges the batch only once BigQuery has accepted them.
package bqstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// BatchWriter is a generic interface for writing one batch of rows to a
// data store. It abstracts the destination, keeping handlers testable.
type BatchWriter[T any] interface {
	WriteBatch(ctx context.Context, rows []*T) error
	Close() error
}

// DatasetConfig holds configuration for a BigQuery dataset and table.
type DatasetConfig struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: path to a service account JSON file.
}

// LoadDatasetConfigFromEnv loads BigQuery configuration from environment
// variables.
func LoadDatasetConfigFromEnv() (*DatasetConfig, error) {
	cfg := &DatasetConfig{
		ProjectID:       os.Getenv("GCP_PROJECT_ID"),
		DatasetID:       os.Getenv("BQ_DATASET_ID"),
		TableID:         os.Getenv("BQ_TABLE_ID"),
		CredentialsFile: os.Getenv("GCP_BQ_CREDENTIALS_FILE"),
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID environment variable not set")
	}
	if cfg.DatasetID == "" {
		return nil, fmt.Errorf("BQ_DATASET_ID environment variable not set")
	}
	if cfg.TableID == "" {
		return nil, fmt.Errorf("BQ_TABLE_ID environment variable not set")
	}
	return cfg, nil
}

// NewProductionClient creates a BigQuery client suitable for production
// environments. It uses Application Default Credentials unless a specific
// credentials file is provided.
func NewProductionClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", projectID).Msg("Failed to create BigQuery client.")
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", projectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// BigQueryWriter implements BatchWriter for Google BigQuery, streaming rows
// of any struct type T compatible with BigQuery's schema inference.
type BigQueryWriter[T any] struct {
	client   *bigquery.Client
	table    *bigquery.Table
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryWriter creates a writer for the configured table. If the table
// does not exist it is created with a schema inferred from the zero value
// of T, so new row types deploy without manual table setup.
func NewBigQueryWriter[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *DatasetConfig,
	logger zerolog.Logger,
) (*BigQueryWriter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("DatasetConfig cannot be nil")
	}

	projectID := client.Project()
	logger = logger.With().Str("project_id", projectID).Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	_, err := tableRef.Metadata(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "notFound") {
			logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
			var zero T
			inferredSchema, inferErr := bigquery.InferSchema(zero)
			if inferErr != nil {
				return nil, fmt.Errorf("failed to infer schema for type %T: %w", zero, inferErr)
			}
			tableMetadata := &bigquery.TableMetadata{Schema: inferredSchema}
			if createErr := tableRef.Create(ctx, tableMetadata); createErr != nil {
				return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
			}
			logger.Info().Msg("BigQuery table created successfully.")
		} else {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
	} else {
		logger.Info().Msg("Successfully connected to existing BigQuery table.")
	}

	return &BigQueryWriter[T]{
		client:   client,
		table:    tableRef,
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// WriteBatch streams one batch of rows to the configured table. Row-level
// insert errors are logged individually before the wrapped error returns,
// since those details are what debugging a poisoned batch needs.
func (w *BigQueryWriter[T]) WriteBatch(ctx context.Context, rows []*T) error {
	if len(rows) == 0 {
		return nil
	}

	err := w.inserter.Put(ctx, rows)
	if err != nil {
		w.logger.Error().Err(err).Int("batch_size", len(rows)).Msg("Failed to insert rows into BigQuery.")
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				w.logger.Error().
					Int("row_index", rowErr.RowIndex).
					Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}

	w.logger.Debug().Int("batch_size", len(rows)).Msg("Successfully inserted batch into BigQuery.")
	return nil
}

// Close is a no-op. The BigQuery client's lifecycle is managed externally,
// so a single client can back several writers.
func (w *BigQueryWriter[T]) Close() error {
	return nil
}
