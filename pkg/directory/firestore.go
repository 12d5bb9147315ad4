package directory

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/illmade-knight/go-sensor-gateway/pkg/gateway"
)

// FirestoreConfig holds configuration for the Firestore-backed directory.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreDirectory reads sensor records from a Firestore collection. The
// gateway only ever reads from it; sensor CRUD is owned by the backend's HTTP
// layer.
type FirestoreDirectory struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreDirectory creates a new FirestoreDirectory.
func NewFirestoreDirectory(
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreDirectory, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreDirectory initialized.")

	return &FirestoreDirectory{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreDirectory").Logger(),
	}, nil
}

// ListAll streams every sensor document in the collection.
func (d *FirestoreDirectory) ListAll(ctx context.Context) ([]gateway.Sensor, error) {
	iter := d.client.Collection(d.collectionName).Documents(ctx)
	defer iter.Stop()

	var sensors []gateway.Sensor
	for {
		docSnap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			d.logger.Error().Err(err).Msg("Failed to iterate sensor collection.")
			return nil, fmt.Errorf("firestore list sensors: %w", err)
		}

		var sensor gateway.Sensor
		if err := docSnap.DataTo(&sensor); err != nil {
			// One malformed document must not hide every other sensor.
			d.logger.Warn().Err(err).Str("doc_id", docSnap.Ref.ID).Msg("Skipping sensor document with unexpected shape.")
			continue
		}
		if sensor.ID == "" {
			sensor.ID = docSnap.Ref.ID
		}
		sensors = append(sensors, sensor)
	}

	d.logger.Debug().Int("sensor_count", len(sensors)).Msg("Listed sensors from Firestore.")
	return sensors, nil
}

// Fetch retrieves a single sensor document by ID.
func (d *FirestoreDirectory) Fetch(ctx context.Context, id string) (gateway.Sensor, error) {
	var zero gateway.Sensor
	docSnap, err := d.client.Collection(d.collectionName).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			d.logger.Warn().Str("sensor_id", id).Msg("Sensor not found in Firestore.")
			return zero, fmt.Errorf("sensor not found: %w", err)
		}
		return zero, fmt.Errorf("firestore get for %s: %w", id, err)
	}

	var sensor gateway.Sensor
	if err := docSnap.DataTo(&sensor); err != nil {
		return zero, fmt.Errorf("firestore DataTo for %s: %w", id, err)
	}
	if sensor.ID == "" {
		sensor.ID = docSnap.Ref.ID
	}
	return sensor, nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (d *FirestoreDirectory) Close() error {
	d.logger.Info().Msg("FirestoreDirectory does not close the injected Firestore client.")
	return nil
}
