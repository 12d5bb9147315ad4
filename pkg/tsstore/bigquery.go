package tsstore

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

// BatchWriter is the destination a flushed batch of readings is written to.
// It abstracts the concrete table store so the Appender can be tested without
// a real BigQuery client.
type BatchWriter interface {
	WriteBatch(ctx context.Context, readings []*SensorReading) error
	Close() error
}

// BigQueryConfig holds configuration for the readings table.
type BigQueryConfig struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: Path to a service account JSON file.
}

// LoadBigQueryConfigFromEnv loads BigQuery configuration from environment variables.
func LoadBigQueryConfigFromEnv() (*BigQueryConfig, error) {
	cfg := &BigQueryConfig{
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

// NewProductionBigQueryClient creates a BigQuery client suitable for production
// environments. It uses Application Default Credentials unless a specific
// credentials file is provided.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
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

// BigQueryWriter streams reading batches into a BigQuery table. If the target
// table does not exist it is created with a schema inferred from SensorReading.
type BigQueryWriter struct {
	client   *bigquery.Client
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryWriter creates a writer bound to the configured table.
func NewBigQueryWriter(
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryConfig,
	logger zerolog.Logger,
) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryConfig cannot be nil")
	}

	logger = logger.With().Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	_, err := tableRef.Metadata(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "notFound") {
			logger.Warn().Msg("Readings table not found. Attempting to create with inferred schema.")

			inferredSchema, inferErr := bigquery.InferSchema(SensorReading{})
			if inferErr != nil {
				return nil, fmt.Errorf("failed to infer readings schema: %w", inferErr)
			}
			if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: inferredSchema}); createErr != nil {
				return nil, fmt.Errorf("failed to create readings table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
			}
			logger.Info().Msg("Readings table created successfully.")
		} else {
			return nil, fmt.Errorf("failed to get readings table metadata: %w", err)
		}
	} else {
		logger.Info().Msg("Successfully connected to existing readings table.")
	}

	return &BigQueryWriter{
		client:   client,
		inserter: tableRef.Inserter(),
		logger:   logger.With().Str("component", "BigQueryWriter").Logger(),
	}, nil
}

// WriteBatch streams a batch of readings to BigQuery.
func (w *BigQueryWriter) WriteBatch(ctx context.Context, readings []*SensorReading) error {
	if len(readings) == 0 {
		return nil
	}

	err := w.inserter.Put(ctx, readings)
	if err != nil {
		w.logger.Error().Err(err).Int("batch_size", len(readings)).Msg("Failed to insert readings into BigQuery.")
		// Log detailed row-level errors if available for easier debugging.
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				w.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}

	w.logger.Debug().Int("batch_size", len(readings)).Msg("Successfully inserted readings batch.")
	return nil
}

// Close is a no-op for this implementation. The BigQuery client's lifecycle is
// managed by the caller that created it.
func (w *BigQueryWriter) Close() error {
	return nil
}
