// Package presence tracks the last known liveness of each sensor, fed by ping
// outcomes. The data is ephemeral with no source of truth to fall back on, so
// the cache requires explicit Set and Delete operations.
package presence

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-sensor-gateway/pkg/gateway"
)

// Record is the stored liveness state for one sensor.
type Record struct {
	Status    gateway.Status `json:"status"`
	CheckedAt time.Time      `json:"checkedAt"`
}

// Cache is the storage contract for sensor presence records.
type Cache interface {
	// Set explicitly stores a record for a sensor.
	Set(ctx context.Context, sensorID string, record Record) error
	// Fetch retrieves a record by sensor ID.
	Fetch(ctx context.Context, sensorID string) (Record, error)
	// Delete explicitly removes a sensor's record.
	Delete(ctx context.Context, sensorID string) error
	// Closer is included for implementations that manage network connections.
	io.Closer
}

// Recorder adapts a Cache to the gateway's best-effort PresenceRecorder hook.
// Failures are logged and dropped; presence is advisory state only.
type Recorder struct {
	cache  Cache
	logger zerolog.Logger
}

// NewRecorder wraps a cache for use by the gateway.
func NewRecorder(cache Cache, logger zerolog.Logger) *Recorder {
	return &Recorder{
		cache:  cache,
		logger: logger.With().Str("component", "PresenceRecorder").Logger(),
	}
}

// RecordPing stores the outcome of a ping probe.
func (r *Recorder) RecordPing(ctx context.Context, sensorID string, status gateway.Status) {
	record := Record{Status: status, CheckedAt: time.Now().UTC()}
	if err := r.cache.Set(ctx, sensorID, record); err != nil {
		r.logger.Warn().Err(err).Str("sensor_id", sensorID).Msg("Failed to record ping outcome.")
	}
}
